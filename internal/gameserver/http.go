package gameserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
)

// API serves the Manager over HTTP with JSON bodies.
type API struct {
	players *Manager
	logger  *zap.Logger
}

// NewAPI creates an API.
//
// Precondition: players and logger must be non-nil.
func NewAPI(players *Manager, logger *zap.Logger) *API {
	return &API{players: players, logger: logger}
}

// Router returns the API's routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	p := r.PathPrefix("/players/{player}").Subrouter()
	p.HandleFunc("/streams", a.handleStreams).Methods(http.MethodGet)
	p.HandleFunc("/streams/{stream}/pull", a.handlePullSingle).Methods(http.MethodPost)
	p.HandleFunc("/streams/{stream}/pull/{n:[0-9]+}", a.handlePullBatch).Methods(http.MethodPost)
	p.HandleFunc("/streams/{stream}/pity", a.handlePity).Methods(http.MethodGet)
	p.HandleFunc("/streams/{stream}/stats", a.handleStats).Methods(http.MethodGet)
	p.HandleFunc("/streams/{stream}/stats", a.handleResetStats).Methods(http.MethodDelete)
	p.HandleFunc("/inventory", a.handleInventory).Methods(http.MethodGet)
	p.HandleFunc("/fusion/preview", a.handlePreview).Methods(http.MethodGet)
	p.HandleFunc("/fusion", a.handleFuse).Methods(http.MethodPost)
	p.HandleFunc("/autofuse", a.handleAutoFuse).Methods(http.MethodPost)
	return r
}

func (a *API) service(w http.ResponseWriter, r *http.Request) (*Service, bool) {
	svc, err := a.players.Service(r.Context(), mux.Vars(r)["player"])
	if err != nil {
		a.writeError(w, err)
		return nil, false
	}
	return svc, true
}

func (a *API) handleStreams(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"streams": svc.Streams()})
}

func (a *API) handlePullSingle(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	item, err := svc.PullSingle(r.Context(), mux.Vars(r)["stream"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": itemViews(svc, []catalog.ItemInstance{item})})
}

// itemView is an instance with its effective primary stat.
type itemView struct {
	catalog.ItemInstance
	EffectiveStat float64 `json:"effective_stat"`
}

func itemViews(svc *Service, items []catalog.ItemInstance) []itemView {
	out := make([]itemView, len(items))
	for i, it := range items {
		out[i] = itemView{ItemInstance: it, EffectiveStat: svc.EffectiveStat(it.Template)}
	}
	return out
}

// stackView is an inventory stack with its effective primary stat.
type stackView struct {
	inventory.Stack
	EffectiveStat float64 `json:"effective_stat"`
}

// handlePullBatch pulls n items; an optional ?type= restricts the item type.
func (a *API) handlePullBatch(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	n, err := strconv.Atoi(vars["n"])
	if err != nil {
		a.writeError(w, gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("invalid batch size %q", vars["n"])))
		return
	}
	var items []catalog.ItemInstance
	if t := r.URL.Query().Get("type"); t != "" {
		typ, perr := catalog.ParseItemType(t)
		if perr != nil {
			a.writeError(w, gerrors.Wrap(gerrors.CodeInvalidArgument, perr.Error(), perr))
			return
		}
		items, err = svc.PullBatchByType(r.Context(), vars["stream"], n, typ)
	} else {
		items, err = svc.PullBatch(r.Context(), vars["stream"], n)
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": itemViews(svc, items)})
}

type pityResponse struct {
	Stream             string  `json:"stream"`
	Count              int     `json:"count"`
	Progress           float64 `json:"progress"`
	PullsUntilHardPity int     `json:"pulls_until_hard_pity"`
	HardThreshold      int     `json:"hard_threshold"`
	Floor              string  `json:"floor"`
}

func (a *API) handlePity(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	stream := mux.Vars(r)["stream"]
	p, err := svc.Pity(stream)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pityResponse{
		Stream:             stream,
		Count:              p.PullsSinceGuarantee,
		Progress:           p.Progress(),
		PullsUntilHardPity: p.PullsUntilHardPity(),
		HardThreshold:      p.HardThreshold,
		Floor:              p.Floor.String(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	stats, err := svc.Stats(mux.Vars(r)["stream"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleResetStats(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	if err := svc.ResetStats(mux.Vars(r)["stream"]); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	stacks, err := svc.Inventory(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]stackView, len(stacks))
	for i, st := range stacks {
		views[i] = stackView{Stack: st, EffectiveStat: svc.EffectiveStat(st.Template)}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"stacks": views})
}

// handlePreview takes the group key as ?item=type/name/rarity/subgrade.
func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	item, err := a.resolve(r, svc, r.URL.Query().Get("item"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	out, err := svc.GetFusionPreview(r.Context(), item)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, out)
}

type fuseRequest struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (a *API) handleFuse(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	var req fuseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		a.writeError(w, gerrors.Wrap(gerrors.CodeInvalidArgument, "invalid JSON body", err))
		return
	}
	item, err := a.resolve(r, svc, req.Item)
	if err != nil {
		a.writeError(w, err)
		return
	}
	res, err := svc.TryFuse(r.Context(), item, req.Count)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAutoFuse(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	report, err := svc.AutoFuse(r.Context(), catalog.ItemType(r.URL.Query().Get("type")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *API) resolve(r *http.Request, svc *Service, raw string) (catalog.ItemTemplate, error) {
	key, err := catalog.ParseKey(raw)
	if err != nil {
		return catalog.ItemTemplate{}, gerrors.Wrap(gerrors.CodeInvalidArgument, err.Error(), err)
	}
	return svc.ResolveItem(r.Context(), key)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("encoding response", zap.Error(err))
	}
}

// writeError renders err as the JSON form of its gRPC status.
func (a *API) writeError(w http.ResponseWriter, err error) {
	st := gerrors.Status(err)
	code := httpStatus(st.Code())
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	body, merr := protojson.Marshal(st.Proto())
	if merr != nil {
		http.Error(w, st.Message(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// httpStatus maps a gRPC code onto the closest HTTP status.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
