package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lerrors "github.com/rcourtman/wplicense/internal/errors"
	"github.com/rcourtman/wplicense/internal/logging"
	"github.com/rcourtman/wplicense/internal/metrics"
	"github.com/rcourtman/wplicense/pkg/inventory"
	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/rs/zerolog"
)

// Product is a managed product as found by the inventory.
type Product = inventory.ProductDescriptor

// RemoteClient is the part of the license server client the workflows use.
type RemoteClient interface {
	Call(ctx context.Context, action licenseapi.Action, params licenseapi.Params) (*licenseapi.Response, error)
}

// ResultStatus classifies a workflow result for the admin surface.
type ResultStatus string

const (
	ResultSuccess    ResultStatus = "success"
	ResultBadRequest ResultStatus = "bad_request" // the call failed in transport or was rejected
	ResultInvalid    ResultStatus = "invalid"     // the server answered with an unrecognized status
)

// Fixed messages surfaced to the admin surface.
const (
	MsgActivated          = "License activated."
	MsgDeactivated        = "License deactivated."
	MsgActivationFailed   = "License activation failed."
	MsgDeactivationFailed = "License deactivation failed."
	MsgUnknownError       = "License might be invalid or an unknown error occurred."
)

// Request is a license form submission.
type Request struct {
	LicenseKey  string `json:"license_key"`
	Environment string `json:"environment"`
	Deactivate  bool   `json:"deactivate"`
}

// Result is the outcome of one reconciliation. Remote failures are carried
// in Err; they are never returned as the error of Submit.
type Result struct {
	Status   ResultStatus
	Action   licenseapi.Action
	Message  string
	Record   *LicenseRecord
	Response *licenseapi.Response
	Err      error
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Domain string // host name the activation is bound to
	Logger zerolog.Logger
}

// Reconciler applies license submissions: it decides the action, calls the
// server, interprets the answer and persists the record.
type Reconciler struct {
	client  RemoteClient
	records *RecordStore
	domain  string
	logger  zerolog.Logger
}

func NewReconciler(client RemoteClient, records *RecordStore, opts ReconcilerOptions) *Reconciler {
	return &Reconciler{
		client:  client,
		records: records,
		domain:  strings.TrimSpace(opts.Domain),
		logger:  opts.Logger,
	}
}

// Submit reconciles product's record with req. The returned error is
// non-nil only for contract violations (an *errors.ContractError, nothing
// sent, nothing saved) and storage failures.
func (r *Reconciler) Submit(ctx context.Context, product Product, req Request) (*Result, error) {
	logger := logging.FromContext(ctx, r.logger).With().Str("slug", product.Slug).Logger()

	creds, err := r.records.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.LicenseKey)
	env, contractErr := validateRequest(product, key, req.Environment, creds.Connected)
	if contractErr != nil {
		logger.Warn().Err(contractErr).Msg("Rejected license submission")
		return nil, contractErr
	}

	rec, err := r.records.Load(ctx, product.Slug)
	if err != nil {
		return nil, err
	}

	if !creds.Connected && key != rec.LicenseKey {
		logger.Info().Msg("License key changed; resetting license record")
		rec.Reset()
		rec.SetKey(key)
	}
	rec.Environment = env
	if r.domain != "" {
		rec.Domain = r.domain
	}
	if product.Version != "" {
		rec.CurrentVersion = product.Version
	}

	action := licenseapi.ActionActivate
	switch {
	case req.Deactivate:
		action = licenseapi.ActionDeactivate
	case rec.GetActiveStatus(env):
		action = licenseapi.ActionCheckLicense
	}

	params := licenseParams(product, rec, creds)
	resp, callErr := r.client.Call(ctx, action, params)

	result := &Result{Action: action, Record: rec, Response: resp}
	switch {
	case callErr != nil:
		result.Status = ResultBadRequest
		result.Message = failureMessage(callErr)
		result.Err = callErr
		logger.Warn().Err(callErr).Str("action", string(action)).Msg("License server call failed")
	default:
		status, ok := acceptedStatus(resp)
		if !ok {
			result.Status = ResultInvalid
			result.Message = MsgUnknownError
			result.Err = fmt.Errorf("%w: %q", lerrors.ErrUnknownResponse, responseStatusText(resp))
			logger.Warn().Str("action", string(action)).Str("status", responseStatusText(resp)).Msg("License server returned an unrecognized status")
			break
		}
		applyStatus(rec, resp, status)
		if action != licenseapi.ActionCheckLicense {
			rec.SetActiveStatus(env, action == licenseapi.ActionActivate && status == licenseapi.StatusActive)
		}
		result.Status = ResultSuccess
		result.Message = ComposeMessage(action, status)
		logger.Info().Str("action", string(action)).Str("status", string(status)).Msg("License reconciled")
	}

	metrics.RecordReconciliation(string(action), string(result.Status))

	if err := r.records.Save(ctx, product.Slug, rec); err != nil {
		return result, err
	}
	return result, nil
}

// acceptedStatus gates on the top-level status before reading the license
// status, so a payload with an unrecognized top-level status never counts
// even when its domain block looks valid.
func acceptedStatus(resp *licenseapi.Response) (Status, bool) {
	if !licenseapi.CheckResponseStatus(resp) {
		return "", false
	}
	return resp.LicenseStatus()
}

func validateRequest(product Product, key, rawEnv string, connected bool) (Environment, error) {
	contractErr := &lerrors.ContractError{Op: "license submission"}
	if EncodeSlug(product.Slug) == "" {
		contractErr.Missing = append(contractErr.Missing, licenseapi.ParamSlug)
	}
	if key == "" && !connected {
		contractErr.Missing = append(contractErr.Missing, licenseapi.ParamLicenseKey)
	}
	env, err := ParseEnvironment(rawEnv)
	if err != nil {
		contractErr.Invalid = map[string]string{licenseapi.ParamEnvironment: err.Error()}
	}
	if !contractErr.Empty() {
		return "", contractErr
	}
	return env, nil
}

// licenseParams builds the parameters shared by license and update calls.
// Connected sites authenticate with the account credentials instead of the key.
func licenseParams(product Product, rec *LicenseRecord, creds Credentials) licenseapi.Params {
	version := product.Version
	if version == "" {
		version = rec.CurrentVersion
	}
	env := rec.Environment
	if env == "" {
		env = EnvLive
	}

	params := licenseapi.Params{
		licenseapi.ParamSlug:        product.Slug,
		licenseapi.ParamDomain:      rec.Domain,
		licenseapi.ParamVersion:     version,
		licenseapi.ParamEnvironment: string(env),
	}
	if creds.Connected {
		params[licenseapi.ParamEmail] = creds.Email
		params[licenseapi.ParamAPIKey] = creds.APIKey
		params[licenseapi.ParamAPISecret] = creds.APISecret
	} else {
		params[licenseapi.ParamLicenseKey] = strings.TrimSpace(rec.LicenseKey)
	}
	return params
}

// applyStatus records the server's verdict. Activation flags are left alone.
func applyStatus(rec *LicenseRecord, resp *licenseapi.Response, status Status) {
	rec.SetStatus(status)
	rec.SetExpires(string(resp.Expires))
}

// ComposeMessage returns the admin message for a successful round-trip.
func ComposeMessage(action licenseapi.Action, status Status) string {
	switch action {
	case licenseapi.ActionActivate:
		if status == licenseapi.StatusActive {
			return MsgActivated
		}
		return joinMessage(MsgActivationFailed, status.Label())
	case licenseapi.ActionDeactivate:
		if status == licenseapi.StatusDeactivated || status == licenseapi.StatusInactive {
			return MsgDeactivated
		}
		return joinMessage(MsgDeactivationFailed, status.Label())
	default:
		return status.Label()
	}
}

func failureMessage(err error) string {
	var apiErr *lerrors.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == lerrors.KindValidationFailed {
		return joinMessage(MsgUnknownError, apiErr.Message)
	}
	return MsgUnknownError
}

func joinMessage(head, tail string) string {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return head
	}
	return head + " " + tail
}

func responseStatusText(resp *licenseapi.Response) string {
	if resp == nil {
		return ""
	}
	if resp.Domain != nil {
		return string(resp.Domain.Status)
	}
	return string(resp.Status)
}
