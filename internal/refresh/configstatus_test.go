package refresh

import (
	"context"
	"testing"

	"github.com/kjstillabower/yahooweather-binding/internal/client"
)

func TestScheduler_ConfigStatus(t *testing.T) {
	tests := []struct {
		name    string
		respond func(string) (string, error)
		want    int
		wantErr bool
	}{
		{name: "city found", respond: body(`{"query":{"count":1,"results":{"channel":{"location":{"city":"Berlin","country":"Germany","region":" BE"}}}}}`)},
		{name: "no results", respond: body(noResults), want: 1},
		{name: "location without city", respond: body(`{"query":{"count":1,"results":{"channel":{"location":{"country":"Germany"}}}}}`), want: 1},
		{name: "service unreachable", respond: func(string) (string, error) { return "", client.ErrUpstreamFailure }},
		{name: "malformed", respond: body(`{"query"`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "config-status", tt.respond)

			msgs, err := f.scheduler.ConfigStatus(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfigStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(msgs) != tt.want {
				t.Fatalf("ConfigStatus() = %+v, want %d messages", msgs, tt.want)
			}
			if tt.want == 0 {
				return
			}
			m := msgs[0]
			if m.Parameter != "location" || m.Type != ConfigStatusError || m.Message != LocationNotFound {
				t.Errorf("message = %+v", m)
			}
			if len(m.Arguments) != 1 || m.Arguments[0] != berlinWOEID {
				t.Errorf("arguments = %v, want [%s]", m.Arguments, berlinWOEID)
			}
		})
	}
}

func TestScheduler_ConfigStatus_DoesNotTouchWeather(t *testing.T) {
	f := newFixture(t, "config-status-isolated", body(noResults))

	if _, err := f.scheduler.ConfigStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.recorder.statuses) != 0 || len(f.recorder.states) != 0 {
		t.Errorf("config status pushed updates: %+v %+v", f.recorder.statuses, f.recorder.states)
	}
	if f.scheduler.Phase() != PhaseUninitialized {
		t.Errorf("Phase() = %s, want UNINITIALIZED", f.scheduler.Phase())
	}
}
