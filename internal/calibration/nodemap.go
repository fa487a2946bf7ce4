package calibration

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUnknownParameter = errors.New("calibration: unknown parameter")
	ErrKindMismatch     = errors.New("calibration: parameter has the wrong type")
	ErrNotWritable      = errors.New("calibration: node not available or not writable")
)

// NodeMap is the camera's key/value configuration surface. Every setter
// stands alone: one failing does not affect the others.
type NodeMap interface {
	SetInteger(ctx context.Context, name string, v int64) error
	SetFloat(ctx context.Context, name string, v float64) error
	SetString(ctx context.Context, name string, v string) error
	SetBoolean(ctx context.Context, name string, v bool) error
	GetFloat(ctx context.Context, name string) (float64, error)
}

// Result lists what Apply did, by parameter name.
type Result struct {
	Applied []string
	Failed  map[string]error
}

func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// Apply writes every parameter through its typed setter.
func Apply(ctx context.Context, nm NodeMap, params []Param) Result {
	res := Result{Failed: map[string]error{}}
	for _, p := range params {
		if err := apply(ctx, nm, p); err != nil {
			log.Printf("calibration: %s %s: %v", p.Kind, p.Name, err)
			res.Failed[p.Name] = err
			continue
		}
		res.Applied = append(res.Applied, p.Name)
	}
	return res
}

func apply(ctx context.Context, nm NodeMap, p Param) error {
	kind, ok := Known[p.Name]
	if !ok {
		return errors.Wrap(ErrUnknownParameter, p.Name)
	}
	if kind != p.Kind {
		return errors.Wrapf(ErrKindMismatch, "%s is %s, got %s", p.Name, kind, p.Kind)
	}
	switch kind {
	case Integer:
		v, ok := p.Value.(int64)
		if !ok {
			return errors.Wrapf(ErrKindMismatch, "%s value %T", p.Name, p.Value)
		}
		return nm.SetInteger(ctx, p.Name, v)
	case Float:
		v, ok := p.Value.(float64)
		if !ok {
			return errors.Wrapf(ErrKindMismatch, "%s value %T", p.Name, p.Value)
		}
		return nm.SetFloat(ctx, p.Name, v)
	case String:
		v, ok := p.Value.(string)
		if !ok {
			return errors.Wrapf(ErrKindMismatch, "%s value %T", p.Name, p.Value)
		}
		return nm.SetString(ctx, p.Name, v)
	case Boolean:
		v, ok := p.Value.(bool)
		if !ok {
			return errors.Wrapf(ErrKindMismatch, "%s value %T", p.Name, p.Value)
		}
		return nm.SetBoolean(ctx, p.Name, v)
	}
	return errors.Wrap(ErrKindMismatch, p.Name)
}

// PollTemperature reads DeviceTemperature every interval until ctx is done.
func PollTemperature(ctx context.Context, nm NodeMap, interval time.Duration, update func(float64, error)) {
	if nm == nil || update == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		update(nm.GetFloat(ctx, "DeviceTemperature"))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
