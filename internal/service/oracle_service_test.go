package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/oracle"
	"github.com/evetabi/betledger/internal/service"
)

type fakeOracle struct {
	mu        sync.Mutex
	submitErr error
	statuses  []oracle.JobStatus // returned in order; the last one repeats
	polls     int
	prompts   []string
}

func (f *fakeOracle) SubmitJob(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.prompts = append(f.prompts, prompt)
	return "job-1", nil
}

func (f *fakeOracle) JobStatus(_ context.Context, jobID string) (*oracle.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	i := f.polls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	st := f.statuses[i]
	st.ID = jobID
	return &st, nil
}

func pending() oracle.JobStatus { return oracle.JobStatus{State: oracle.JobPending} }

func done(result string) oracle.JobStatus {
	return oracle.JobStatus{State: oracle.JobDone, Result: result}
}

type fakeArchive struct {
	keys map[uuid.UUID][]byte
}

func (a *fakeArchive) PutTranscript(_ context.Context, eventID uuid.UUID, data []byte) (string, error) {
	if a.keys == nil {
		a.keys = make(map[uuid.UUID][]byte)
	}
	a.keys[eventID] = data
	return "transcripts/" + eventID.String() + ".json", nil
}

func newOracle(e *env, client service.OracleClient, locker service.Locker, opts service.OracleOptions) *service.OracleService {
	return service.NewOracleService(client, e.settle, e.events, e.store, locker, opts, discardLogger())
}

func fastOpts(attempts int) service.OracleOptions {
	return service.OracleOptions{
		PollInterval:        time.Millisecond,
		MaxAttempts:         attempts,
		Timeout:             5 * time.Second,
		ConfidenceThreshold: 0.7,
	}
}

// A job that never leaves pending times out and the event stays open.
func TestAutoResolve_PendingJobTimesOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)
	client := &fakeOracle{statuses: []oracle.JobStatus{pending()}}

	_, err := newOracle(e, client, service.NewLocalLocker(), fastOpts(3)).AutoResolve(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrTimeout)
	if client.polls != 3 {
		t.Errorf("polls = %d, want 3", client.polls)
	}

	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if d.Event.Status != domain.EventStatusActive {
		t.Errorf("status = %s, want active", d.Event.Status)
	}
	_, err = e.events.GetResolution(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrResolutionNotFound)
	if bal := e.balance(t, 1); !bal.Equal(dec(70)) {
		t.Errorf("balance = %s, want 70", bal)
	}
}

func TestAutoResolve_WallClockTimeout(t *testing.T) {
	e := newEnv(t)
	ev, _, _, _ := seedThreeBets(t, e)
	client := &fakeOracle{statuses: []oracle.JobStatus{pending()}}
	opts := fastOpts(1_000_000)
	opts.Timeout = 30 * time.Millisecond

	_, err := newOracle(e, client, nil, opts).AutoResolve(context.Background(), ev.Event.ID)
	wantErr(t, err, domain.ErrTimeout)
}

func TestAutoResolve_ConfidentWinnerSettles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)
	client := &fakeOracle{statuses: []oracle.JobStatus{
		pending(),
		done(`The home side won. {"decision": "X", "confidence": 0.93, "reasoning": "2-1 final"}`),
	}}
	arch := &fakeArchive{}
	svc := newOracle(e, client, service.NewLocalLocker(), fastOpts(5))
	svc.SetArchiver(arch)

	res, err := svc.AutoResolve(ctx, ev.Event.ID)
	if err != nil {
		t.Fatalf("AutoResolve: %v", err)
	}
	if res.Source != domain.ResolutionOracle || res.IsRefund() || res.WinningOptionIDs[0] != "X" {
		t.Errorf("resolution = %+v", res)
	}
	if bal := e.balance(t, 1); !bal.Equal(dec(130)) {
		t.Errorf("winner balance = %s, want 130", bal)
	}

	var data map[string]any
	if err := json.Unmarshal(res.Data, &data); err != nil {
		t.Fatalf("resolution data: %v", err)
	}
	if data["job_id"] != "job-1" || data["option_id"] != "X" {
		t.Errorf("data = %v", data)
	}
	if data["archive_key"] != "transcripts/"+ev.Event.ID.String()+".json" {
		t.Errorf("archive_key = %v", data["archive_key"])
	}
	if _, ok := arch.keys[ev.Event.ID]; !ok {
		t.Error("transcript not archived")
	}
	if len(client.prompts) != 1 {
		t.Errorf("prompts = %d", len(client.prompts))
	}
}

func TestAutoResolve_UntrustedVerdictRefunds(t *testing.T) {
	for name, result := range map[string]string{
		"low confidence": `{"decision": "X", "confidence": 0.4}`,
		"unknown option": `{"decision": "Z", "confidence": 0.99}`,
		"refund":         `{"decision": "refund", "confidence": 1}`,
		"garbage":        `I am not sure.`,
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			ev, a, _, _ := seedThreeBets(t, e)
			client := &fakeOracle{statuses: []oracle.JobStatus{done(result)}}

			res, err := newOracle(e, client, nil, fastOpts(1)).AutoResolve(context.Background(), ev.Event.ID)
			if err != nil {
				t.Fatalf("AutoResolve: %v", err)
			}
			if !res.IsRefund() {
				t.Errorf("resolution = %+v, want refund", res)
			}
			if got := e.betByID(t, ev.Event.ID, a.ID); got.Status != domain.BetStatusRefunded {
				t.Errorf("bet status = %s", got.Status)
			}
		})
	}
}

func TestAutoResolve_JobErrorIsExternal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)
	client := &fakeOracle{statuses: []oracle.JobStatus{{State: oracle.JobError, Error: "model overloaded"}}}

	_, err := newOracle(e, client, nil, fastOpts(3)).AutoResolve(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrExternalService)
	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if d.Event.Status != domain.EventStatusActive {
		t.Errorf("status = %s", d.Event.Status)
	}
}

func TestAutoResolve_SubmitErrorIsExternal(t *testing.T) {
	e := newEnv(t)
	ev, _, _, _ := seedThreeBets(t, e)
	client := &fakeOracle{submitErr: errors.New("connection refused")}

	_, err := newOracle(e, client, nil, fastOpts(1)).AutoResolve(context.Background(), ev.Event.ID)
	wantErr(t, err, domain.ErrExternalService)
}

func TestAutoResolve_LockHeldSkips(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)
	locker := service.NewLocalLocker()
	release, err := locker.Acquire(ctx, "oracle:"+ev.Event.ID.String(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	client := &fakeOracle{statuses: []oracle.JobStatus{done(`{"decision":"X","confidence":1}`)}}

	_, err = newOracle(e, client, locker, fastOpts(1)).AutoResolve(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrLockNotAcquired)
	if len(client.prompts) != 0 {
		t.Error("job submitted while lock was held")
	}
}

func TestAutoResolve_ClosedEventAndMissingClient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)

	_, err := newOracle(e, nil, nil, fastOpts(1)).AutoResolve(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrExternalService)

	if _, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"Y"}}); err != nil {
		t.Fatal(err)
	}
	client := &fakeOracle{statuses: []oracle.JobStatus{done(`{"decision":"X","confidence":1}`)}}
	_, err = newOracle(e, client, nil, fastOpts(1)).AutoResolve(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrAlreadyResolved)
}
