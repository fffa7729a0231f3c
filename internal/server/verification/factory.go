package verification

import "golang.org/x/time/rate"

// Settings selects and tunes the gateway built by New.
type Settings struct {
	Twilio TwilioConfig
	Rate   float64
	Burst  int
}

// New returns a throttled Twilio gateway, or Disabled when credentials are
// missing. The boolean reports whether a provider is configured.
func New(s Settings) (Gateway, bool) {
	tw, err := NewTwilioGateway(s.Twilio)
	if err != nil {
		return Disabled{}, false
	}
	return NewThrottledGateway(tw, rate.Limit(s.Rate), s.Burst), true
}
