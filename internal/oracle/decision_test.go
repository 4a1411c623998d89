package oracle_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/oracle"
)

func detail() *domain.EventDetail {
	id := uuid.New()
	return &domain.EventDetail{
		Event: &domain.Event{
			ID: id, Title: "Will it rain in Izmir on Friday?",
			Deadline: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), ResolutionDate: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		},
		Options: []*domain.Option{{EventID: id, ID: "yes", Text: "Yes"}, {EventID: id, ID: "no", Text: "No"}},
	}
}

func TestEvaluate(t *testing.T) {
	ev := detail()
	cases := []struct {
		name   string
		result string
		want   string // option id, "" for refund
	}{
		{"confident winner", `Sure. {"decision":"yes","confidence":0.92,"reasoning":"radar"}`, "yes"},
		{"explicit refund", `{"decision":"refund","confidence":0.99}`, ""},
		{"low confidence", `{"decision":"no","confidence":0.4}`, ""},
		{"unknown option", `{"decision":"maybe","confidence":0.95}`, ""},
		{"no json", `I think it will rain.`, ""},
		{"broken json", `{"decision": "yes", `, ""},
		{"trailing text ignored", `{"decision":"no","confidence":0.8} and more {"x":1}`, "no"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := oracle.Evaluate(tc.result, ev, 0.7)
			if got.OptionID != tc.want {
				t.Errorf("OptionID = %q, want %q (reason %s)", got.OptionID, tc.want, got.Reason)
			}
			if tc.want == "" && !got.Refund() {
				t.Error("expected refund outcome")
			}
		})
	}
}

func TestBuildPrompt_ListsOptions(t *testing.T) {
	p := oracle.BuildPrompt(detail())
	for _, want := range []string{"Izmir", `id="yes"`, `id="no"`, `"refund"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %s", want)
		}
	}
}
