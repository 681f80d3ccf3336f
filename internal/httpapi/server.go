package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evopanel/internal/recipe"
	"evopanel/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	State() types.PanelState
	Models() []string

	SetSelection(model1, model2 string) (types.PanelState, error)
	SetOutputLayers(n int) (types.PanelState, error)
	SetMergedName(name string) (types.PanelState, error)
	SetWeight(group string, index int, percent float64) (types.PanelState, error)
	Randomize() types.PanelState
	AddBlock(layer int) (types.PanelState, error)
	RemoveBlock(layer, block int) (types.PanelState, error)
	UpdateBlock(layer, block int, field recipe.Field, value float64) (types.PanelState, error)

	LayerCount(model string) types.LayerCount
	SetLayerCount(model string, n int) error

	RefreshModels(ctx context.Context) (types.Job, error)
	SubmitMerge(ctx context.Context) (types.Job, error)
	SubmitGenerate(ctx context.Context, req types.GenerateRequest) (types.Job, error)
	Jobs() []types.Job
	Job(id string) (types.Job, error)
	CancelJob(ctx context.Context, id string) (types.Job, error)
	WaitJob(ctx context.Context, id string) (types.Job, error)
}

// NewMux builds the panel API router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	h := &handlers{svc: svc}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.state)
		r.Put("/selection", h.selection)
		r.Put("/output-layers", h.outputLayers)
		r.Put("/merged-name", h.mergedName)
		r.Put("/weights/{group}", h.weight)

		r.Post("/recipe/randomize", h.randomize)
		r.Post("/recipe/layers/{layer}/blocks", h.addBlock)
		r.Patch("/recipe/layers/{layer}/blocks/{block}", h.updateBlock)
		r.Delete("/recipe/layers/{layer}/blocks/{block}", h.removeBlock)

		r.Get("/layer-counts/{model}", h.layerCount)
		r.Put("/layer-counts/{model}", h.setLayerCount)

		r.Get("/models", h.models)
		r.Post("/models/refresh", h.refreshModels)
		r.Post("/merge", h.merge)
		r.Post("/generate", h.generate)

		r.Get("/jobs", h.jobs)
		r.Get("/jobs/{id}", h.job)
		r.Delete("/jobs/{id}", h.cancelJob)
	})

	return r
}

type handlers struct {
	svc Service
}

// decodeJSON enforces the JSON content type and body limit.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeState(w http.ResponseWriter, st types.PanelState, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.State())
}

func (h *handlers) selection(w http.ResponseWriter, r *http.Request) {
	var req types.SelectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.SetSelection(req.Model1, req.Model2)
	writeState(w, st, err)
}

func (h *handlers) outputLayers(w http.ResponseWriter, r *http.Request) {
	var req types.CountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.SetOutputLayers(req.Count)
	writeState(w, st, err)
}

func (h *handlers) mergedName(w http.ResponseWriter, r *http.Request) {
	var req types.NameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.SetMergedName(req.Name)
	writeState(w, st, err)
}

func (h *handlers) weight(w http.ResponseWriter, r *http.Request) {
	var req types.WeightRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.SetWeight(chi.URLParam(r, "group"), req.Index, req.Percent)
	writeState(w, st, err)
}

func (h *handlers) randomize(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Randomize())
}

func (h *handlers) addBlock(w http.ResponseWriter, r *http.Request) {
	layer, ok := intParam(w, r, "layer")
	if !ok {
		return
	}
	st, err := h.svc.AddBlock(layer)
	writeState(w, st, err)
}

func (h *handlers) updateBlock(w http.ResponseWriter, r *http.Request) {
	layer, ok := intParam(w, r, "layer")
	if !ok {
		return
	}
	block, ok := intParam(w, r, "block")
	if !ok {
		return
	}
	var req types.BlockUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.UpdateBlock(layer, block, recipe.Field(req.Field), req.Value)
	writeState(w, st, err)
}

func (h *handlers) removeBlock(w http.ResponseWriter, r *http.Request) {
	layer, ok := intParam(w, r, "layer")
	if !ok {
		return
	}
	block, ok := intParam(w, r, "block")
	if !ok {
		return
	}
	st, err := h.svc.RemoveBlock(layer, block)
	writeState(w, st, err)
}

func (h *handlers) layerCount(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	writeJSON(w, http.StatusOK, types.ModelLayers{Model: model, Layers: h.svc.LayerCount(model)})
}

func (h *handlers) setLayerCount(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	var req types.CountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.SetLayerCount(model, req.Count); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelLayers{Model: model, Layers: h.svc.LayerCount(model)})
}

func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.Models()})
}

func (h *handlers) refreshModels(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.RefreshModels(r.Context())
	h.submitted(w, r, types.JobListModels, j, err)
}

func (h *handlers) merge(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.SubmitMerge(r.Context())
	h.submitted(w, r, types.JobMerge, j, err)
}

func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	j, err := h.svc.SubmitGenerate(r.Context(), req)
	h.submitted(w, r, types.JobGenerate, j, err)
}

// submitted answers a job submission with 202, or with the finished job
// when the caller asked to wait.
func (h *handlers) submitted(w http.ResponseWriter, r *http.Request, kind types.JobKind, j types.Job, err error) {
	countSubmission(string(kind), err)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, j)
		return
	}
	h.waitAndWrite(w, r, j.ID)
}

func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.JobsResponse{Jobs: h.svc.Jobs()})
}

func (h *handlers) job(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if wantsWait(r) {
		h.waitAndWrite(w, r, id)
		return
	}
	j, err := h.svc.Job(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handlers) waitAndWrite(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	ctx, cancelT := context.WithTimeout(ctx, waitTimeout)
	defer cancelT()
	j, err := h.svc.WaitJob(ctx, id)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func wantsWait(r *http.Request) bool {
	v := r.URL.Query().Get("wait")
	return v == "1" || v == "true"
}
