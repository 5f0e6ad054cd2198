package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"escrow-sync-go/internal/escrow"
	"escrow-sync-go/internal/filestore"
	"escrow-sync-go/internal/httputil"
	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/notify"
	"escrow-sync-go/internal/store"
)

const (
	depositorAddr   = "0x00000000000000000000000000000000000000d1"
	arbiterAddr     = "0x00000000000000000000000000000000000000a1"
	beneficiaryAddr = "0x00000000000000000000000000000000000000b1"
)

// namedSigners maps a few friendly names to addresses.
type namedSigners map[string]string

func (n namedSigners) Signer(id string) (ledger.Signer, error) {
	if id == "" {
		return nil, errors.New("account is required")
	}
	return ledger.StaticSigner(n.Address(id)), nil
}

func (n namedSigners) Address(id string) string {
	if addr, ok := n[id]; ok {
		return addr
	}
	return id
}

var testSigners = namedSigners{
	"depositor":   depositorAddr,
	"arbiter":     arbiterAddr,
	"beneficiary": beneficiaryAddr,
}

// flakyMirror fails the next Append when failNext is set.
type flakyMirror struct {
	store.MirrorStore
	mutex    sync.Mutex
	failNext bool
}

func (f *flakyMirror) Append(ctx context.Context, a models.Agreement) (*models.Agreement, error) {
	f.mutex.Lock()
	fail := f.failNext
	f.failNext = false
	f.mutex.Unlock()
	if fail {
		return nil, errors.New("disk full")
	}
	return f.MirrorStore.Append(ctx, a)
}

// brokenLedger rejects every funding attempt.
type brokenLedger struct {
	ledger.Client
}

func (brokenLedger) Fund(context.Context, ledger.Signer, string, string, *big.Int) (string, error) {
	return "", errors.New("rpc unavailable")
}

type testEnv struct {
	server      *httptest.Server
	mirror      *flakyMirror
	broadcaster *notify.Broadcaster
}

func newTestEnv(t *testing.T, wrap func(ledger.Client) ledger.Client) *testEnv {
	files, err := filestore.New(filepath.Join(t.TempDir(), "contracts.json"))
	if err != nil {
		t.Fatalf("filestore.New failed: %v", err)
	}
	mirror := &flakyMirror{MirrorStore: files}

	memory, err := ledger.NewMemory(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	var client ledger.Client = memory
	if wrap != nil {
		client = wrap(memory)
	}

	broadcaster := notify.NewBroadcaster(16)
	controller, err := escrow.NewController(escrow.Config{Ledger: client, Mirror: mirror, Notifier: broadcaster})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	server := httptest.NewServer(NewServer(controller, testSigners, broadcaster).Router())
	t.Cleanup(func() {
		server.Close()
		controller.Close()
		broadcaster.Close()
		memory.Close()
	})
	return &testEnv{server: server, mirror: mirror, broadcaster: broadcaster}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("Reading body failed: %v", err)
	}
	return resp, buf.Bytes()
}

func (e *testEnv) create(t *testing.T) models.Agreement {
	resp, body := e.do(t, http.MethodPost, "/agreements", map[string]string{
		"depositor":   "depositor",
		"arbiter":     "arbiter",
		"beneficiary": "beneficiary",
		"value":       "1.5",
		"kind":        "ether",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body)
	}
	var agreement models.Agreement
	if err := json.Unmarshal(body, &agreement); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return agreement
}

func TestCreateAndGetAgreement(t *testing.T) {
	env := newTestEnv(t, nil)

	agreement := env.create(t)
	if agreement.Value != "1500000000000000000" {
		t.Errorf("Expected value in wei, got %s", agreement.Value)
	}
	if agreement.Arbiter != arbiterAddr || agreement.Beneficiary != beneficiaryAddr || agreement.Depositor != depositorAddr {
		t.Errorf("Expected parties resolved to addresses, got %+v", agreement)
	}
	if agreement.IsApproved || agreement.ApprovedAt != nil {
		t.Errorf("Expected new agreement to be unapproved")
	}

	resp, body := env.do(t, http.MethodGet, "/agreements/"+strings.ToLower(agreement.Address), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/agreements", nil)
	var all []models.Agreement
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(all) != 1 {
		t.Errorf("Expected 1 agreement, got %d (status %d)", len(all), resp.StatusCode)
	}
}

func TestCreateAgreementRejects(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{"malformed json", "{", "invalid JSON body"},
		{"same arbiter and beneficiary", map[string]string{
			"depositor": "depositor", "arbiter": "arbiter", "beneficiary": "arbiter", "value": "1",
		}, "Arbiter and Beneficiary cannot be the same address"},
		{"depositor is arbiter", map[string]string{
			"depositor": "depositor", "arbiter": "depositor", "beneficiary": "beneficiary", "value": "1",
		}, "Arbiter cannot be the same as the signer"},
		{"zero value", map[string]string{
			"depositor": "depositor", "arbiter": "arbiter", "beneficiary": "beneficiary", "value": "0",
		}, "value must be greater than zero"},
		{"missing depositor", map[string]string{
			"arbiter": "arbiter", "beneficiary": "beneficiary", "value": "1",
		}, "depositor: account is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/agreements", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", resp.StatusCode, body)
			}
			var errBody httputil.ErrorBody
			if err := json.Unmarshal(body, &errBody); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if errBody.Error != tt.wantMsg {
				t.Errorf("Expected %q, got %q", tt.wantMsg, errBody.Error)
			}
		})
	}

	resp, body := env.do(t, http.MethodGet, "/agreements", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("Expected no agreements, got %s", body)
	}
}

func TestCreateAgreementLedgerFailure(t *testing.T) {
	env := newTestEnv(t, func(c ledger.Client) ledger.Client { return brokenLedger{Client: c} })

	resp, body := env.do(t, http.MethodPost, "/agreements", map[string]string{
		"depositor": "depositor", "arbiter": "arbiter", "beneficiary": "beneficiary", "value": "10",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d: %s", resp.StatusCode, body)
	}
}

func TestCreateAgreementPersistenceFailureThenRetry(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mirror.failNext = true

	resp, body := env.do(t, http.MethodPost, "/agreements", map[string]string{
		"depositor": "depositor", "arbiter": "arbiter", "beneficiary": "beneficiary", "value": "10",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d: %s", resp.StatusCode, body)
	}

	var failure persistenceErrorBody
	if err := json.Unmarshal(body, &failure); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if failure.Address == "" || failure.Agreement == nil {
		t.Fatalf("Expected address and agreement in body, got %s", body)
	}

	resp, body = env.do(t, http.MethodPost, "/agreements/"+failure.Address+"/persist", failure.Agreement)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body)
	}

	// A second retry finds the record already stored.
	resp, body = env.do(t, http.MethodPost, "/agreements/"+failure.Address+"/persist", failure.Agreement)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201 on repeat, got %d: %s", resp.StatusCode, body)
	}
}

func TestPersistRejectsUnfundedAgreement(t *testing.T) {
	env := newTestEnv(t, nil)
	approvedAt := int64(42)

	resp, body := env.do(t, http.MethodPost, "/agreements/0x00000000000000000000000000000000000000ff/persist", models.Agreement{
		Arbiter:     arbiterAddr,
		Beneficiary: beneficiaryAddr,
		Value:       "1",
		ApprovedAt:  &approvedAt,
		IsApproved:  true,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", resp.StatusCode, body)
	}

	all, err := env.mirror.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected nothing written to the mirror, got %+v", all)
	}
}

func TestApproveAgreement(t *testing.T) {
	env := newTestEnv(t, nil)
	agreement := env.create(t)
	path := "/agreements/" + agreement.Address + "/approve"

	resp, body := env.do(t, http.MethodPost, path, map[string]string{"approver": "beneficiary"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for non-arbiter, got %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, path, map[string]string{"approver": "arbiter"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", resp.StatusCode, body)
	}
	var ack models.ApprovalAck
	if err := json.Unmarshal(body, &ack); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !ack.Submitted || ack.TxHash == "" {
		t.Errorf("Expected a submitted ack with tx hash, got %+v", ack)
	}

	deadline := time.Now().Add(2 * time.Second)
	var current models.Agreement
	for time.Now().Before(deadline) {
		_, body = env.do(t, http.MethodGet, "/agreements/"+agreement.Address, nil)
		if err := json.Unmarshal(body, &current); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if current.IsApproved {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !current.IsApproved || current.ApprovedAt == nil {
		t.Fatalf("Expected agreement to be approved, got %+v", current)
	}

	resp, body = env.do(t, http.MethodPost, path, map[string]string{"approver": "arbiter"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if ack.Submitted {
		t.Errorf("Expected no submission for an approved agreement")
	}
}

func TestApproveUnknownAgreement(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/agreements/0x0000000000000000000000000000000000000bad/approve", map[string]string{"approver": "arbiter"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", resp.StatusCode, body)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/agreements/events", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected text/event-stream, got %s", ct)
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitLine := func(prefix string) string {
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("Stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("Timed out waiting for %q", prefix)
			}
		}
	}

	waitLine(": connected")
	agreement := env.create(t)

	if line := waitLine("event: "); line != "event: "+models.EventAgreementCreated {
		t.Errorf("Expected created event, got %q", line)
	}
	data := strings.TrimPrefix(waitLine("data: "), "data: ")
	var ev models.AgreementEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if ev.Agreement.Address != agreement.Address {
		t.Errorf("Expected event for %s, got %s", agreement.Address, ev.Agreement.Address)
	}
}
