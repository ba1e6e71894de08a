package kenwood

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/gorig"
	"go.uber.org/zap"
)

type model struct {
	name  string
	build func(*table)
}

var models = map[string]model{
	"019": {"TS-2000", ts2000},
	"020": {"TS-B2000", ts2000},
}

func modelCodes() []string {
	var out []string
	for code := range models {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// identify asks for the model code until the transceiver answers. An
// answer without a matching table is fatal.
func (d *Driver) identify(ctx context.Context) (func(*table), error) {
	id := d.reg.Get("id")
	var code int
	err := retry.Do(func() error {
		id.Clear()
		actx, cancel := context.WithTimeout(ctx, 2*d.cfg.AckTimeout)
		defer cancel()
		v, err := id.Read(actx)
		if err != nil {
			return err
		}
		n, ok := v.(int)
		if !ok {
			return errors.New("blank identity reply")
		}
		code = n
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return gorig.IsRecoverable(err) || errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			d.log.Warn("identify retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, gorig.Unrecoverable(fmt.Errorf("identify: %w", err))
	}
	d.model = fmt.Sprintf("%03d", code)
	info, err := gorig.LookupModel(d.model)
	if err != nil {
		return nil, err
	}
	m, found := models[d.model]
	if !found {
		return nil, gorig.Unrecoverable(fmt.Errorf("%w: %s is driven by %s", gorig.ErrUnsupportedModel, d.model, info.Name))
	}
	d.log.Info("identified transceiver", zap.String("model", m.name), zap.String("id", d.model))
	return m.build, nil
}
