package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cory-johannsen/splendor/internal/eventstore"
	"github.com/cory-johannsen/splendor/internal/game/aggregate"
	"github.com/cory-johannsen/splendor/internal/game/gems"
	"github.com/cory-johannsen/splendor/internal/notify"
	"github.com/cory-johannsen/splendor/internal/observability"
)

// OwnerHeader carries the caller's identity. It is trusted as-is.
const OwnerHeader = "X-Owner-ID"

const maxBodyBytes = 64 << 10

// API exposes the Service over HTTP.
type API struct {
	svc    *Service
	live   *notify.WebSocketRelay
	health http.Handler
	logger *zap.Logger
}

// NewAPI creates an API.
//
// Precondition: svc and logger must be non-nil. A nil live disables
// /games/{id}/live; a nil health disables /healthz.
func NewAPI(svc *Service, live *notify.WebSocketRelay, health http.Handler, logger *zap.Logger) *API {
	return &API{svc: svc, live: live, health: health, logger: logger}
}

// Routes builds the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.accessLog)
	r.Use(func(next http.Handler) http.Handler {
		return observability.InstrumentHandler(next, routePattern)
	})

	r.Get("/cards", a.listCards)
	if a.health != nil {
		r.Method(http.MethodGet, "/healthz", a.health)
	}
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/games", func(r chi.Router) {
		r.With(requireOwner).Get("/", a.listGames)
		r.With(requireOwner).Post("/", a.createGame)
		r.Route("/{gameID}", func(r chi.Router) {
			if a.live != nil {
				// Browsers cannot set headers on a websocket handshake.
				r.Get("/live", a.streamLive)
			}
			r.Group(func(r chi.Router) {
				r.Use(requireOwner)
				r.Get("/", a.getGame)
				r.Get("/version", a.getVersion)
				r.Get("/history", a.getHistory)
				r.Get("/available-actions", a.getAvailableActions)
				r.Post("/players", a.joinGame)
				r.Post("/start", a.startGame)
				r.Post("/actions/take-gems", a.takeGems)
				r.Post("/actions/buy-card", a.buyCard)
			})
		})
	})
	return r
}

type ownerKey struct{}

func withOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + OwnerHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), owner)))
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type errorBody struct {
	Error string `json:"error"`
}

type createdBody struct {
	ID string `json:"id"`
}

type joinRequest struct {
	GameID string `json:"gameId,omitempty"`
	Name   string `json:"name"`
}

type takeGemsRequest struct {
	GameID   string          `json:"gameId,omitempty"`
	PlayerID string          `json:"playerId"`
	Gems     gems.Collection `json:"gems"`
}

type buyCardRequest struct {
	GameID   string `json:"gameId,omitempty"`
	PlayerID string `json:"playerId"`
	CardID   string `json:"cardId"`
}

func (a *API) createGame(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.CreateGame(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/games/"+res.GameID)
	writeJSON(w, http.StatusCreated, createdBody{ID: res.GameID})
}

func (a *API) joinGame(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	gameID, ok := decodeFor(w, r, &req, func() string { return req.GameID })
	if !ok {
		return
	}
	res, err := a.svc.JoinGame(r.Context(), gameID, ownerFrom(r.Context()), req.Name)
	a.writeResult(w, r, res, err)
}

func (a *API) startGame(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.StartGame(r.Context(), chi.URLParam(r, "gameID"), ownerFrom(r.Context()))
	a.writeResult(w, r, res, err)
}

func (a *API) takeGems(w http.ResponseWriter, r *http.Request) {
	var req takeGemsRequest
	gameID, ok := decodeFor(w, r, &req, func() string { return req.GameID })
	if !ok {
		return
	}
	res, err := a.svc.TakeGems(r.Context(), gameID, ownerFrom(r.Context()), req.PlayerID, req.Gems)
	a.writeResult(w, r, res, err)
}

func (a *API) buyCard(w http.ResponseWriter, r *http.Request) {
	var req buyCardRequest
	gameID, ok := decodeFor(w, r, &req, func() string { return req.GameID })
	if !ok {
		return
	}
	res, err := a.svc.BuyCard(r.Context(), gameID, ownerFrom(r.Context()), req.PlayerID, req.CardID)
	a.writeResult(w, r, res, err)
}

func (a *API) listGames(w http.ResponseWriter, r *http.Request) {
	games, err := a.svc.Games(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (a *API) getGame(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Game(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) getVersion(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Version(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.svc.History(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) getAvailableActions(w http.ResponseWriter, r *http.Request) {
	actions, err := a.svc.AvailableActions(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (a *API) listCards(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Cards())
}

func (a *API) streamLive(w http.ResponseWriter, r *http.Request) {
	a.live.Serve(w, r, chi.URLParam(r, "gameID"))
}

// decodeFor reads a JSON body into dst and returns the path's game ID. A body
// that names a different game is rejected with 400.
func decodeFor(w http.ResponseWriter, r *http.Request, dst any, bodyGameID func() string) (string, bool) {
	gameID := chi.URLParam(r, "gameID")
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return "", false
	}
	if id := bodyGameID(); id != "" && id != gameID {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "game id mismatch"})
		return "", false
	}
	return gameID, true
}

func (a *API) writeResult(w http.ResponseWriter, r *http.Request, res CommandResult, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeError maps err onto a status code. Unclassified errors are logged in
// full and answered with a generic body.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case aggregate.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case aggregate.IsRejection(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
