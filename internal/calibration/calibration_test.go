package calibration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestParse(t *testing.T) {
	in := `# calibration for the 25mm lens
Integer Width 320
Float Gain 1.5
String PS0CalibrationLoadTag 25mm, Empty, 35C - 150C
Boolean ReverseX true
Integer Height abc
Short line

Float ExposureTime 2000.0
`
	params, errs := Parse(strings.NewReader(in))
	if len(errs) != 1 {
		t.Fatalf("expected one bad line, got %v", errs)
	}
	var le *LineError
	if !errors.As(errs[0], &le) || le.Line != 6 {
		t.Fatalf("unexpected error %v", errs[0])
	}
	if len(params) != 5 {
		t.Fatalf("expected 5 params, got %d: %+v", len(params), params)
	}
	if params[0].Value != int64(320) || params[1].Value != 1.5 {
		t.Fatalf("unexpected values: %+v", params[:2])
	}
	if params[2].Value != "25mm, Empty, 35C - 150C" {
		t.Fatalf("unexpected string value %q", params[2].Value)
	}
	if params[3].Value != true {
		t.Fatalf("unexpected bool %v", params[3].Value)
	}
}

func TestMergeKeepsDefaultOrder(t *testing.T) {
	merged := Merge(Defaults(), []Param{
		{Kind: Integer, Name: "Height", Value: int64(256)},
		{Kind: Float, Name: "Gain", Value: 2.0},
	})
	if len(merged) != 5 {
		t.Fatalf("unexpected merged length %d", len(merged))
	}
	if merged[1].Name != "Height" || merged[1].Value != int64(256) {
		t.Fatalf("override lost: %+v", merged[1])
	}
	if merged[4].Name != "Gain" {
		t.Fatalf("new param not appended: %+v", merged)
	}
	if Defaults()[1].Value != int64(513) {
		t.Fatalf("Merge modified the defaults")
	}
}

type fakeNodeMap struct {
	mu     sync.Mutex
	values map[string]any
	fail   map[string]error
}

func (f *fakeNodeMap) set(name string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[name]; err != nil {
		return err
	}
	f.values[name] = v
	return nil
}

func (f *fakeNodeMap) SetInteger(_ context.Context, name string, v int64) error {
	return f.set(name, v)
}

func (f *fakeNodeMap) SetFloat(_ context.Context, name string, v float64) error {
	return f.set(name, v)
}

func (f *fakeNodeMap) SetString(_ context.Context, name string, v string) error {
	return f.set(name, v)
}

func (f *fakeNodeMap) SetBoolean(_ context.Context, name string, v bool) error {
	return f.set(name, v)
}

func (f *fakeNodeMap) GetFloat(_ context.Context, name string) (float64, error) {
	return 41.5, nil
}

func TestApplyFailsIndependently(t *testing.T) {
	nm := &fakeNodeMap{
		values: map[string]any{},
		fail:   map[string]error{"OffsetX": ErrNotWritable},
	}
	params := Merge(Defaults(), []Param{
		{Kind: Float, Name: "Gain", Value: 1.25},
		{Kind: Integer, Name: "Bogus", Value: int64(1)},
		{Kind: String, Name: "Width", Value: "wide"},
	})

	res := Apply(context.Background(), nm, params)
	if res.OK() {
		t.Fatalf("expected failures")
	}
	if !errors.Is(res.Failed["OffsetX"], ErrNotWritable) {
		t.Fatalf("OffsetX: %v", res.Failed["OffsetX"])
	}
	if !errors.Is(res.Failed["Bogus"], ErrUnknownParameter) {
		t.Fatalf("Bogus: %v", res.Failed["Bogus"])
	}
	if !errors.Is(res.Failed["Width"], ErrKindMismatch) {
		t.Fatalf("Width: %v", res.Failed["Width"])
	}
	if len(res.Applied) != 3 {
		t.Fatalf("expected Height, OffsetY and Gain applied, got %v", res.Applied)
	}
	if nm.values["Height"] != int64(513) || nm.values["Gain"] != 1.25 {
		t.Fatalf("unexpected node values %v", nm.values)
	}
}

func TestBuildPaths(t *testing.T) {
	got := BuildPaths("http://cam/", "1.0", "camera", "config", "Width")
	want := []string{
		"http://cam/camera/api/1.0/config/Width",
		"http://cam/api/1.0/camera/config/Width",
		"http://cam/camera/config/Width",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v, want %v", got, want)
	}
	if BuildPaths("", "1.0", "camera", "config", "Width") != nil {
		t.Fatalf("expected nil paths without a base url")
	}
}

func TestHTTPNodeMap(t *testing.T) {
	var mu sync.Mutex
	got := map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/camera/config/Width":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			got["Width"] = body["value"]
			mu.Unlock()
		case r.Method == http.MethodGet && r.URL.Path == "/camera/status/DeviceTemperature":
			_, _ = w.Write([]byte(`{"value": 36.5}`))
		case r.Method == http.MethodPut && r.URL.Path == "/camera/config/Gain":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("out of range"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	nm := &HTTPNodeMap{BaseURL: srv.URL, APIVersion: "1.0", Module: "camera"}
	ctx := context.Background()
	if err := nm.SetInteger(ctx, "Width", 640); err != nil {
		t.Fatalf("set width: %v", err)
	}
	mu.Lock()
	if got["Width"] != float64(640) {
		t.Fatalf("unexpected width %v", got["Width"])
	}
	mu.Unlock()
	if err := nm.SetFloat(ctx, "Gain", 99); err == nil || errors.Is(err, ErrNotWritable) {
		t.Fatalf("expected a plain http error, got %v", err)
	}
	if err := nm.SetBoolean(ctx, "ReverseX", true); !errors.Is(err, ErrNotWritable) {
		t.Fatalf("expected ErrNotWritable, got %v", err)
	}

	temp, err := nm.GetFloat(ctx, "DeviceTemperature")
	if err != nil || temp != 36.5 {
		t.Fatalf("get temperature: %v %v", temp, err)
	}
}

func TestPollTemperatureStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	nm := &fakeNodeMap{values: map[string]any{}}
	var calls int
	done := make(chan struct{})
	go func() {
		PollTemperature(ctx, nm, time.Millisecond, func(v float64, err error) {
			calls++
			if calls == 3 {
				cancel()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("poller did not stop")
	}
	if calls < 3 {
		t.Fatalf("unexpected call count %d", calls)
	}
}
