// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openwireurl builds the broker address list and conn.Options a
// call to conn.Dial needs from a single connection URI: tcp://host:port,
// ssl://host:port, or a composite failover://(uri,uri,...)?param=value
// pool, each optionally carrying query parameters that fold into
// transport.Options or transport.FailoverConfig. ${NAME} references are
// expanded against the process environment before parsing, the
// convention the ActiveMQ client libraries use for externalizing broker
// addresses and credentials.
package openwireurl

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/conn"
	"github.com/pepper-iot/openwire-client-go/core/transport"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// Parse decodes raw into the broker address list and Options Dial
// expects. A bare tcp:// or ssl:// URI yields a single-address pool; a
// failover://(...) URI yields every address inside the parens plus any
// failover tuning parameters after the closing paren.
func Parse(raw string) ([]string, conn.Options, error) {
	expanded := os.Expand(raw, os.Getenv)
	opts := conn.Options{}

	if strings.HasPrefix(expanded, "failover://") {
		return parseFailover(expanded, opts)
	}
	return parseSingle(expanded, opts)
}

func parseFailover(raw string, opts conn.Options) ([]string, conn.Options, error) {
	body := strings.TrimPrefix(raw, "failover://")

	var query string
	if closeIdx := strings.LastIndex(body, ")"); closeIdx >= 0 {
		query = strings.TrimPrefix(body[closeIdx+1:], "?")
		body = body[:closeIdx+1]
	}
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")

	parts := strings.Split(body, ",")
	uris := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		addr, err := parseOne(p, &opts)
		if err != nil {
			return nil, opts, err
		}
		uris = append(uris, addr)
	}
	if len(uris) == 0 {
		return nil, opts, errs.New(errs.KindIllegalState, "failover URI has no broker addresses")
	}

	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, opts, errs.Wrap(errs.KindIllegalState, "parse failover query", err)
		}
		applyFailoverParams(&opts.Failover, values)
	}
	return uris, opts, nil
}

func parseSingle(raw string, opts conn.Options) ([]string, conn.Options, error) {
	addr, err := parseOne(raw, &opts)
	if err != nil {
		return nil, opts, err
	}
	return []string{addr}, opts, nil
}

// parseOne decodes one tcp:// or ssl:// element, folding its query
// parameters into opts.Transport/opts.ClientID (the last element parsed
// in a failover pool wins on conflicting parameters), and returns the
// bare "scheme://host:port" address conn.Dial expects.
func parseOne(raw string, opts *conn.Options) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.Wrap(errs.KindIllegalState, "parse broker URI "+raw, err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls":
	default:
		return "", errs.New(errs.KindIllegalState, "unsupported URI scheme "+u.Scheme)
	}

	if opts.Transport == (transport.Options{}) {
		opts.Transport = transport.DefaultOptions()
	}
	if opts.Prefetch == (command.PrefetchPolicy{}) {
		opts.Prefetch = command.DefaultPrefetchPolicy()
	}
	if opts.Redelivery == (command.RedeliveryPolicy{}) {
		opts.Redelivery = command.DefaultRedeliveryPolicy()
	}
	q := u.Query()
	applyTransportParams(&opts.Transport, q)
	applyConnectionParams(opts, q)
	applyPrefetchParams(&opts.Prefetch, q)
	applyRedeliveryParams(&opts.Redelivery, q)
	if cid := q.Get("clientID"); cid != "" {
		opts.ClientID = cid
	}
	if user := u.User; user != nil {
		opts.UserName = user.Username()
		if pw, ok := user.Password(); ok {
			opts.Password = pw
		}
	}

	return u.Scheme + "://" + u.Host, nil
}

func applyTransportParams(o *transport.Options, q url.Values) {
	if v := q.Get("connectionTimeout"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			o.ConnectTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("wireFormat.maxInactivityDuration"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			o.MaxInactivityDuration = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("wireFormat.maxInactivityDurationInitialDelay"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			o.MaxInactivityDurationInitialDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("soTcpNoDelay"); v != "" {
		o.TCPNoDelayEnabled = v == "true"
	}
	if v := q.Get("wireFormat.sizePrefixDisabled"); v != "" {
		o.SizePrefixDisabled = v == "true"
	}
}

// applyConnectionParams reads the connection.* family
// onto the connection-wide Producer/Consumer defaults.
func applyConnectionParams(o *conn.Options, q url.Values) {
	if v := q.Get("connection.useAsyncSend"); v != "" {
		o.UseAsyncSend = v == "true"
	}
	if v := q.Get("connection.alwaysSyncSend"); v != "" {
		o.AlwaysSyncSend = v == "true"
	}
	setIntParam(q, "connection.producerWindowSize", &o.ProducerWindowSize)
	if v := q.Get("connection.dispatchAsync"); v != "" {
		o.DispatchAsync = v == "true"
	}
	if v := q.Get("connection.optimizeAcknowledge"); v != "" {
		o.OptimizeAcknowledge = v == "true"
	}
	if v := q.Get("connection.optimizeAcknowledgeTimeOut"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			o.OptimizeAcknowledgeTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("connection.optimizedAckScheduledAckInterval"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			o.OptimizedAckScheduledAckInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("connection.closeTimeout"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			o.CloseTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("connection.watchTopicAdvisories"); v != "" {
		o.WatchTopicAdvisories = v == "true"
	}
}

// applyPrefetchParams reads the cms.prefetchPolicy.* URI family,
// folding it onto p's matching per-destination-kind window.
func applyPrefetchParams(p *command.PrefetchPolicy, q url.Values) {
	if v := q.Get("cms.prefetchPolicy.all"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.QueuePrefetch, p.TopicPrefetch, p.DurableTopicPrefetch = n, n, n
			p.QueueBrowserPrefetch, p.OptimizeDurableTopicPrefetch = n, n
		}
	}
	setIntParam(q, "cms.prefetchPolicy.queue", &p.QueuePrefetch)
	setIntParam(q, "cms.prefetchPolicy.topic", &p.TopicPrefetch)
	setIntParam(q, "cms.prefetchPolicy.durableTopic", &p.DurableTopicPrefetch)
	setIntParam(q, "cms.prefetchPolicy.queueBrowser", &p.QueueBrowserPrefetch)
	setIntParam(q, "cms.prefetchPolicy.optimizeDurableTopic", &p.OptimizeDurableTopicPrefetch)
}

// applyRedeliveryParams reads the cms.redeliveryPolicy.* URI family
// onto p.
func applyRedeliveryParams(p *command.RedeliveryPolicy, q url.Values) {
	setIntParam(q, "cms.redeliveryPolicy.maximumRedeliveries", &p.MaximumRedeliveries)
	if v := q.Get("cms.redeliveryPolicy.initialRedeliveryDelay"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			p.InitialRedeliveryDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("cms.redeliveryPolicy.useExponentialBackOff"); v != "" {
		p.UseExponentialBackOff = v == "true"
	}
	if v := q.Get("cms.redeliveryPolicy.backOffMultiplier"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.BackOffMultiplier = f
		}
	}
}

func setIntParam(q url.Values, key string, dst *int) {
	if v := q.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyFailoverParams(fc *transport.FailoverConfig, q url.Values) {
	if v := q.Get("randomize"); v != "" {
		fc.Randomize = v == "true"
	}
	if v := q.Get("initialReconnectDelay"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			fc.InitialReconnectDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("maxReconnectDelay"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			fc.MaxReconnectDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := q.Get("backOffMultiplier"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fc.BackoffMultiplier = f
		}
	}
	if v := q.Get("maxReconnectAttempts"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fc.MaxReconnectAttempts = n
		}
	}
	if v := q.Get("maxBacklog"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fc.MaxBacklog = n
		}
	}
}
