package licensing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	lerrors "github.com/rcourtman/wplicense/internal/errors"
	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/rcourtman/wplicense/pkg/options"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Action licenseapi.Action
	Params licenseapi.Params
}

// fakeClient answers every call with the same body or error.
type fakeClient struct {
	mu    sync.Mutex
	calls []recordedCall
	body  string
	err   error
}

func (f *fakeClient) Call(_ context.Context, action licenseapi.Action, params licenseapi.Params) (*licenseapi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(licenseapi.Params, len(params))
	for k, v := range params {
		copied[k] = v
	}
	f.calls = append(f.calls, recordedCall{Action: action, Params: copied})
	if f.err != nil {
		return nil, f.err
	}
	var resp licenseapi.Response
	if err := json.Unmarshal([]byte(f.body), &resp); err != nil {
		return nil, lerrors.NewAPIError(lerrors.KindInvalidJSON, string(action), "bad fixture", err)
	}
	resp.Raw = json.RawMessage(f.body)
	return &resp, nil
}

func (f *fakeClient) reply(body string) {
	f.mu.Lock()
	f.body, f.err = body, nil
	f.mu.Unlock()
}

func (f *fakeClient) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) lastCall() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestRecords() (*RecordStore, *options.Memory) {
	mem := options.NewMemory()
	return NewRecordStore(mem, "", zerolog.Nop()), mem
}

func seedRecord(t *testing.T, records *RecordStore, slug string, rec *LicenseRecord) {
	t.Helper()
	require.NoError(t, records.Save(context.Background(), slug, rec))
}

func loadRecord(t *testing.T, records *RecordStore, slug string) *LicenseRecord {
	t.Helper()
	rec, err := records.Load(context.Background(), slug)
	require.NoError(t, err)
	return rec
}

var acme = Product{Slug: "acme", Name: "Acme Forms", Version: "1.2.0", File: "acme/acme.php"}
