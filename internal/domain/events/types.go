package events

// EventType names a domain event, e.g. "AnalysisTaskFinished".
type EventType string

// PublishOption adjusts how a single event is published.
type PublishOption func(*PublishParams)

// PublishParams collects the effect of the PublishOptions passed to Publish.
type PublishParams struct {
	// Key overrides the envelope key. Publishers use it for partitioning, so
	// events sharing a key keep their relative order.
	Key string
	// Headers replace the envelope headers.
	Headers map[string]string
}

// WithKey overrides the partition key of the published event.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders replaces the headers of the published event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}

// Apply returns evt with opts applied. Options that are unset leave the
// envelope untouched.
func Apply(evt EventEnvelope, opts ...PublishOption) EventEnvelope {
	var params PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		evt.Key = params.Key
	}
	if params.Headers != nil {
		evt.Headers = params.Headers
	}
	return evt
}
