/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tryfix/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	headerRegistryGroup   = `X-Registry-GroupId`
	headerLogicalCluster  = `target-sr-cluster`
	headerIdentityPoolID  = `Confluent-Identity-Pool-Id`
	tokenExpiryThreshold  = 0.8
	defaultRequestTimeout = 30 * time.Second
)

// newHTTPClient builds the http client used for registry calls.
//
//	request -> oauth2 (bearer) -> static headers -> retry -> http.Transport(TLS)
func newHTTPClient(conf RegistryConfig) (*http.Client, error) {
	base, err := newBaseTransport(conf.TLS)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = &retryTransport{
		next:       base,
		maxRetries: conf.MaxRetries,
		wait:       conf.RetryWait,
		maxWait:    conf.RetryMaxWait,
	}

	headers := http.Header{}
	if conf.Group != `` {
		headers.Set(headerRegistryGroup, conf.Group)
	}
	if conf.Bearer.LogicalCluster != `` {
		headers.Set(headerLogicalCluster, conf.Bearer.LogicalCluster)
	}
	if conf.Bearer.IdentityPoolID != `` {
		headers.Set(headerIdentityPoolID, conf.Bearer.IdentityPoolID)
	}
	if conf.Bearer.Token != `` {
		headers.Set(`Authorization`, `Bearer `+conf.Bearer.Token)
	}
	if len(headers) > 0 {
		rt = &headerTransport{next: rt, headers: headers}
	}

	if conf.Bearer.IssuerEndpointURL != `` {
		rt = &oauth2.Transport{
			Source: newTokenSource(conf.Bearer, &http.Client{Transport: base, Timeout: timeoutOrDefault(conf.Timeout)}),
			Base:   rt,
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeoutOrDefault(conf.Timeout),
	}, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultRequestTimeout
	}

	return d
}

// newTokenSource returns an OAuth2 client credentials token source. Tokens are refreshed once
// tokenExpiryThreshold of their lifetime has passed.
func newTokenSource(conf BearerConfig, tokenClient *http.Client) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		TokenURL:     conf.IssuerEndpointURL,
		Scopes:       splitScopes(conf.Scope),
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient)

	return oauth2.ReuseTokenSource(nil, &earlyExpiryTokenSource{ctx: ctx, conf: cc})
}

// earlyExpiryTokenSource fetches a fresh token on every call and shortens its expiry,
// caching is left to oauth2.ReuseTokenSource
type earlyExpiryTokenSource struct {
	ctx  context.Context
	conf *clientcredentials.Config
}

func (s *earlyExpiryTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.Token(s.ctx)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot fetch bearer token`)
	}

	if !tok.Expiry.IsZero() {
		lifetime := time.Until(tok.Expiry)
		cp := *tok
		cp.Expiry = time.Now().Add(time.Duration(float64(lifetime) * tokenExpiryThreshold))
		return &cp, nil
	}

	return tok, nil
}

func splitScopes(scope string) []string {
	return strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

func newBaseTransport(conf TLSConfig) (*http.Transport, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: conf.InsecureSkipVerify,
	}

	if conf.CertLocation != `` {
		cert, err := tls.LoadX509KeyPair(conf.CertLocation, conf.KeyLocation)
		if err != nil {
			return nil, errors.WithPrevious(err, `cannot load registry client certificate`)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	if conf.CaLocation != `` {
		ca, err := os.ReadFile(conf.CaLocation)
		if err != nil {
			return nil, errors.WithPrevious(err, `cannot read registry CA`)
		}

		tlsConf.RootCAs = x509.NewCertPool()
		if !tlsConf.RootCAs.AppendCertsFromPEM(ca) {
			return nil, errors.New(fmt.Sprintf(`could not parse certificate from %s`, conf.CaLocation))
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConf,
		MaxIdleConnsPerHost: 4,
	}, nil
}

type headerTransport struct {
	next    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// a token set by the oauth2 transport wins over the static one
		if k == `Authorization` && r.Header.Get(k) != `` {
			continue
		}
		r.Header[k] = v
	}

	return t.next.RoundTrip(r)
}

// retryTransport retries network errors, 429 and 5xx responses with an exponential backoff
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	wait       time.Duration
	maxWait    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		byt, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		body = byt
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(t.waitOrDefault()),
		backoff.WithMaxInterval(t.maxWaitOrDefault()),
		backoff.WithMaxElapsedTime(0),
	)

	var policy backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(t.maxRetries, 0))), req.Context())

	return backoff.RetryWithData(func() (*http.Response, error) {
		r := req.Clone(req.Context())
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}

		resp, err := t.next.RoundTrip(r)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, errors.New(fmt.Sprintf(`registry responded %d for %s %s`, resp.StatusCode, req.Method, req.URL.Path))
		}

		return resp, nil
	}, policy)
}

func (t *retryTransport) waitOrDefault() time.Duration {
	if t.wait <= 0 {
		return 100 * time.Millisecond
	}

	return t.wait
}

func (t *retryTransport) maxWaitOrDefault() time.Duration {
	if t.maxWait <= 0 {
		return 5 * time.Second
	}

	return t.maxWait
}
