package broker

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig - настройки HTTP клиента к REST API брокеров
type HTTPClientConfig struct {
	// Таймауты соединения
	ConnectTimeout time.Duration // установка TCP соединения (default: 5s)
	ReadTimeout    time.Duration // ожидание заголовков ответа (default: 10s)
	TotalTimeout   time.Duration // общий таймаут запроса (default: 30s)

	// Connection pooling
	MaxIdleConns        int           // default: 50
	MaxIdleConnsPerHost int           // default: 10
	MaxConnsPerHost     int           // default: 20
	IdleConnTimeout     time.Duration // default: 90s

	TLSHandshakeTimeout time.Duration // default: 5s
	KeepAliveInterval   time.Duration // default: 30s
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
		TotalTimeout:   30 * time.Second,

		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - общий пул соединений для всех адаптеров процесса
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewHTTPClient создаёт клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// дедлайн контекста короче ConnectTimeout - берём его
			if deadline, ok := ctx.Deadline(); ok {
				if timeout := time.Until(deadline); timeout < config.ConnectTimeout {
					d := &net.Dialer{Timeout: timeout, KeepAlive: config.KeepAliveInterval}
					return d.DialContext(ctx, network, addr)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.TotalTimeout,
		},
		config: config,
	}
}

// Do выполняет запрос
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// Close закрывает idle соединения, вызывается при graceful shutdown
func (hc *HTTPClient) Close() {
	hc.client.CloseIdleConnections()
}
