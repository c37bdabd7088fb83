package clocksync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/internal/pkg/registry"
)

var ErrSyncFailed = errors.New("clock sync failed")

type DeviceResult struct {
	Device   registry.Device
	Omitted  bool
	Result   model.SyncResult
	Attempts uint
	Payload  *model.ClockPayload
	Err      error
}

func (r DeviceResult) Succeeded() bool {
	return r.Omitted || r.Result == model.SyncSuccess
}

// Report holds one result per device, in the order the devices were given.
type Report struct {
	Results []DeviceResult
}

func (r *Report) Failed() []DeviceResult {
	return lo.Reject(r.Results, func(d DeviceResult, _ int) bool {
		return d.Succeeded()
	})
}

// Err returns an error wrapping ErrSyncFailed when any attempted device did
// not succeed.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := lo.Map(failed, func(d DeviceResult, _ int) string {
		return fmt.Sprintf("%s (%s)", d.Device.DisplayName(), d.Result)
	})
	return fmt.Errorf("%w: %s", ErrSyncFailed, strings.Join(names, ", "))
}

func (r *Report) Result(addr model.DeviceAddress) (DeviceResult, bool) {
	return lo.Find(r.Results, func(d DeviceResult) bool {
		return d.Device.Address == addr
	})
}
