package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"podlog/internal/podlog"
)

// apiRoutes builds the apex host mux: pod management, health and metrics.
func (h *Handler) apiRoutes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("POST /api/pods", h.withCaller(h.createPod))
	mux.HandleFunc("GET /api/pods", h.withCaller(h.listPods))
	mux.HandleFunc("GET /api/pods/{name}", h.withCaller(h.getPod))
	mux.HandleFunc("DELETE /api/pods/{name}", h.withCaller(h.deletePod))
	mux.HandleFunc("PUT /api/pods/{name}/owner", h.withCaller(h.transferPod))
	mux.HandleFunc("PUT /api/pods/{name}/domains", h.withCaller(h.setDomains))
	return mux
}

type callerFunc func(w http.ResponseWriter, r *http.Request, caller podlog.Caller) error

func (h *Handler) withCaller(fn callerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := h.authenticate(r)
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
		if err := fn(w, r, caller); err != nil {
			h.writeError(w, r, err)
		}
	}
}

// decodeBody reads a JSON request body into v.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid(op, "decoding body: %v", err)
	}
	return nil
}

type podsBody struct {
	Pods []*podlog.Pod `json:"pods"`
}

func (h *Handler) createPod(w http.ResponseWriter, r *http.Request, caller podlog.Caller) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := h.decodeBody(w, r, "CreatePod", &body); err != nil {
		return err
	}
	pod, err := h.svc.CreatePod(r.Context(), caller, body.Name)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, pod)
	return nil
}

func (h *Handler) listPods(w http.ResponseWriter, r *http.Request, caller podlog.Caller) error {
	if caller.Anonymous() {
		writeUnauthorized(w, errors.New("authentication required"))
		return nil
	}
	pods, err := h.svc.ListOwnedPods(r.Context(), caller.UserID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, podsBody{Pods: pods})
	return nil
}

func (h *Handler) getPod(w http.ResponseWriter, r *http.Request, _ podlog.Caller) error {
	pod, err := h.svc.GetPod(r.Context(), r.PathValue("name"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pod)
	return nil
}

func (h *Handler) deletePod(w http.ResponseWriter, r *http.Request, caller podlog.Caller) error {
	if err := h.svc.DeletePod(r.Context(), caller, r.PathValue("name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) transferPod(w http.ResponseWriter, r *http.Request, caller podlog.Caller) error {
	var body struct {
		Owner string `json:"owner"`
	}
	if err := h.decodeBody(w, r, "TransferOwnership", &body); err != nil {
		return err
	}
	rec, err := h.svc.TransferOwnership(r.Context(), caller, r.PathValue("name"), body.Owner)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

func (h *Handler) setDomains(w http.ResponseWriter, r *http.Request, caller podlog.Caller) error {
	var body struct {
		Domains []string `json:"domains"`
	}
	if err := h.decodeBody(w, r, "SetDomains", &body); err != nil {
		return err
	}
	pod, err := h.svc.SetDomains(r.Context(), caller, r.PathValue("name"), body.Domains)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pod)
	return nil
}
