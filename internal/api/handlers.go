package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	lerrors "github.com/rcourtman/wplicense/internal/errors"
	"github.com/rcourtman/wplicense/internal/logging"
	"github.com/rcourtman/wplicense/pkg/licensing"
)

// licenseView is the JSON shape of a product with its record.
type licenseView struct {
	Product licensing.Product        `json:"product"`
	License *licensing.LicenseRecord `json:"license"`
	Valid   bool                     `json:"valid"`
	Label   string                   `json:"label"`
}

func newLicenseView(pl licensing.ProductLicense) licenseView {
	return licenseView{
		Product: pl.Product,
		License: pl.Record,
		Valid:   pl.Record.IsValid(),
		Label:   pl.Record.Status.Label(),
	}
}

// submitResponse is returned by the license form endpoint.
type submitResponse struct {
	Status    licensing.ResultStatus   `json:"status"`
	Message   string                   `json:"message"`
	Action    string                   `json:"action"`
	License   *licensing.LicenseRecord `json:"license"`
	ErrorKind string                   `json:"error_kind,omitempty"`
}

type connectRequest struct {
	Email     string `json:"email"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type updateCheckResponse struct {
	Outcomes  map[string]licensing.UpdateOutcome `json:"outcomes"`
	Transient *licensing.UpdateTransient         `json:"transient"`
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// ListProducts returns every managed product with its license record.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.manager.Products(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to list products")
		return
	}
	out := make([]licenseView, 0, len(licenses))
	for _, pl := range licenses {
		out = append(out, newLicenseView(pl))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLicense returns one product's license record.
func (h *Handlers) GetLicense(w http.ResponseWriter, r *http.Request) {
	pl, err := h.manager.License(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.productError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLicenseView(pl))
}

// GetProductInfo returns the license server's catalog entry for a product.
func (h *Handlers) GetProductInfo(w http.ResponseWriter, r *http.Request) {
	product, err := h.manager.ProductInfo(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.remoteError(w, r, err, "Failed to fetch product information")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// SubmitLicense runs the reconciliation workflow for a license form post.
// Remote failures are part of a 200 response; only contract violations and
// unknown products are HTTP errors.
func (h *Handlers) SubmitLicense(w http.ResponseWriter, r *http.Request) {
	var req licensing.Request
	if !h.decodeBody(w, r, &req) {
		return
	}

	res, err := h.manager.Submit(r.Context(), chi.URLParam(r, "slug"), req)
	if err != nil {
		h.productError(w, r, err)
		return
	}

	resp := submitResponse{
		Status:  res.Status,
		Message: res.Message,
		Action:  string(res.Action),
		License: res.Record,
	}
	if res.Err != nil {
		resp.ErrorKind = string(lerrors.KindOf(res.Err))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckUpdates runs the update check for all products and remembers the
// resulting transient for the notices endpoint.
func (h *Handlers) CheckUpdates(w http.ResponseWriter, r *http.Request) {
	transient, outcomes, err := h.manager.CheckUpdates(r.Context(), nil)
	if err != nil {
		h.internalError(w, r, err, "Failed to check for updates")
		return
	}

	h.mu.Lock()
	h.lastTransient = transient
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, updateCheckResponse{Outcomes: outcomes, Transient: transient})
}

// ListNotices returns the current admin notices.
func (h *Handlers) ListNotices(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	transient := h.lastTransient
	h.mu.RUnlock()

	notices, err := h.manager.Notices(r.Context(), transient)
	if err != nil {
		h.internalError(w, r, err, "Failed to build notices")
		return
	}
	if notices == nil {
		notices = []licensing.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

// Connect stores account API credentials after the server accepts them.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	err := h.manager.Connect(r.Context(), licensing.Credentials{
		Email:     req.Email,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
	})
	if err != nil {
		h.remoteError(w, r, err, "Failed to connect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// Disconnect switches the site back to per-product license keys.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Disconnect(r.Context()); err != nil {
		h.internalError(w, r, err, "Failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}

func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object", nil)
		return false
	}
	return true
}

func (h *Handlers) productError(w http.ResponseWriter, r *http.Request, err error) {
	var contractErr *lerrors.ContractError
	switch {
	case errors.As(err, &contractErr):
		writeContractError(w, r, contractErr)
	case errors.Is(err, licensing.ErrUnknownProduct):
		writeErrorResponse(w, r, http.StatusNotFound, "unknown_product", "Product is not managed by this site", nil)
	default:
		h.internalError(w, r, err, "Failed to process license request")
	}
}

// remoteError maps failures of calls that go straight to the license server:
// contract errors are 400, server failures 502.
func (h *Handlers) remoteError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var contractErr *lerrors.ContractError
	var apiErr *lerrors.APIError
	switch {
	case errors.As(err, &contractErr):
		writeContractError(w, r, contractErr)
	case errors.As(err, &apiErr):
		writeErrorResponse(w, r, http.StatusBadGateway, string(apiErr.Kind), apiErr.Message, nil)
	case errors.Is(err, lerrors.ErrUnknownResponse):
		writeErrorResponse(w, r, http.StatusBadGateway, "unknown_response", msg, nil)
	default:
		h.internalError(w, r, err, msg)
	}
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := logging.FromContext(r.Context(), h.logger)
	logger.Error().Err(err).Msg(msg)
	writeErrorResponse(w, r, http.StatusInternalServerError, "internal_error", msg, nil)
}

func writeContractError(w http.ResponseWriter, r *http.Request, err *lerrors.ContractError) {
	details := make(map[string]string, len(err.Missing)+len(err.Invalid))
	for _, field := range err.Missing {
		details[field] = "required"
	}
	for field, reason := range err.Invalid {
		details[field] = reason
	}
	code := "invalid_params"
	if len(err.Missing) > 0 {
		code = "missing_params"
	}
	writeErrorResponse(w, r, http.StatusBadRequest, code, strings.TrimSpace(err.Error()), details)
}
