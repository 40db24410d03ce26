package origin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/rule"
)

type staticResolver struct {
	addrs map[string]string
	calls atomic.Int32
	delay time.Duration
}

func (s *staticResolver) LookupIPv4(_ context.Context, host string) (string, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	ip, ok := s.addrs[host]
	if !ok {
		return "", errors.WrapTransient(errors.ErrResolveFailed, "test", "LookupIPv4", host)
	}
	return ip, nil
}

func selfRule(url string) *rule.Rule {
	return &rule.Rule{
		Callback: rule.Callback{URL: url, Method: "POST"},
		Options:  rule.Options{IgnoreFromSelf: true},
	}
}

func fromOrigins(origins ...string) []delta.ChangeSet {
	out := make([]delta.ChangeSet, 0, len(origins))
	for _, o := range origins {
		out = append(out, delta.ChangeSet{Origin: o})
	}
	return out
}

func TestFilter_DropsSelfOriginated(t *testing.T) {
	res := &staticResolver{addrs: map[string]string{"resource": "10.0.0.5"}}
	f := NewFilter(res, nil, nil)

	out := f.Apply(context.Background(), selfRule("http://resource:8080/delta"),
		fromOrigins("10.0.0.5", "10.0.0.6", "", "10.0.0.5"))
	require.Len(t, out, 2)
	assert.Equal(t, "10.0.0.6", out[0].Origin)
	assert.Equal(t, "", out[1].Origin)
}

func TestFilter_PassThroughWithoutOption(t *testing.T) {
	res := &staticResolver{}
	f := NewFilter(res, nil, nil)
	r := selfRule("http://resource/delta")
	r.Options.IgnoreFromSelf = false

	in := fromOrigins("10.0.0.5")
	assert.Equal(t, in, f.Apply(context.Background(), r, in))
	assert.Zero(t, res.calls.Load())
}

func TestFilter_FailOpen(t *testing.T) {
	f := NewFilter(&staticResolver{}, nil, nil)
	in := fromOrigins("10.0.0.5", "10.0.0.6")
	assert.Equal(t, in, f.Apply(context.Background(), selfRule("http://unknown/delta"), in))
}

func TestCachingResolver_IPLiteral(t *testing.T) {
	res := &staticResolver{}
	c := NewCachingResolver(res, CacheConfig{}, nil)

	ip, err := c.LookupIPv4(context.Background(), "172.18.0.4")
	require.NoError(t, err)
	assert.Equal(t, "172.18.0.4", ip)
	assert.Zero(t, res.calls.Load())
}

func TestCachingResolver_CachesAndCollapses(t *testing.T) {
	res := &staticResolver{addrs: map[string]string{"svc": "10.1.1.1"}, delay: 50 * time.Millisecond}
	c := NewCachingResolver(res, CacheConfig{Size: 8, TTL: time.Minute}, nil)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.LookupIPv4(context.Background(), "svc")
		}(i)
	}
	wg.Wait()

	for _, ip := range results {
		assert.Equal(t, "10.1.1.1", ip)
	}
	assert.Equal(t, int32(1), res.calls.Load())

	_, err := c.LookupIPv4(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), res.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachingResolver_FailuresNotCached(t *testing.T) {
	res := &staticResolver{addrs: map[string]string{}}
	c := NewCachingResolver(res, CacheConfig{}, nil)

	_, err := c.LookupIPv4(context.Background(), "missing")
	require.Error(t, err)
	_, err = c.LookupIPv4(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(2), res.calls.Load())
	assert.True(t, errors.IsTransient(err))
}

func TestHostname(t *testing.T) {
	host, err := Hostname("http://resource:8080/delta")
	require.NoError(t, err)
	assert.Equal(t, "resource", host)

	_, err = Hostname("/relative")
	assert.Error(t, err)
}
