package common

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHttpClient returns the tuned client shared by the mirror client and the
// Ethereum RPC connection.
func NewHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}
