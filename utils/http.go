package utils

import "net/http"

const (
	UserAgent = "Dhakir/1.0 <github.com/dhakir-app/dhakir>"
)

type UARoundtripper struct {
	RT http.RoundTripper
}

func (uart *UARoundtripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", UserAgent)
	if uart.RT == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return uart.RT.RoundTrip(req)
}

func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &UARoundtripper{},
	}
}
