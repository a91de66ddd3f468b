// Package iptool exposes public IP address lookups (address, location, ISP)
// backed by a JSON IP information API.
package iptool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/tool"
)

// DefaultAPIURL is the free IP information endpoint queried by default.
const DefaultAPIURL = "https://free.freeipapi.com/api/json"

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 5 * time.Second

// IPInfo is the subset of the API response the capabilities report. Both the
// freeipapi and the ip-api field spellings are accepted.
type IPInfo struct {
	IP           string `json:"ip"`
	IPAddress    string `json:"ipAddress"`
	Country      string `json:"country"`
	CountryName  string `json:"countryName"`
	RegionName   string `json:"regionName"`
	City         string `json:"city"`
	CityName     string `json:"cityName"`
	ISP          string `json:"isp"`
	Org          string `json:"org"`
	Organization string `json:"organization"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Address returns the reported public IP.
func (i IPInfo) Address() string { return firstNonEmpty(i.IPAddress, i.IP) }

// Location describes where the address is registered.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Provider describes who operates the address.
type Provider struct {
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
}

// Options configures the lookup client.
type Options struct {
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Toolset bundles the IP capabilities sharing one HTTP client.
type Toolset struct {
	opts   Options
	client *http.Client
}

// New creates a Toolset.
func New(optFns ...func(o *Options)) *Toolset {
	opts := Options{
		APIURL:    DefaultAPIURL,
		Timeout:   DefaultTimeout,
		UserAgent: "lang2file-iptool/1.0",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Toolset{opts: opts, client: client}
}

// Capabilities returns the IP capabilities.
func (ts *Toolset) Capabilities() []tool.Tool {
	noArgs := map[string]any{"type": "object", "properties": map[string]any{}}

	return []tool.Tool{
		tool.NewFunctionTool(
			"get_current_ip_address",
			"Get the public IP address of the current machine.",
			noArgs,
			func(tc *core.ToolContext, _ map[string]any) (any, error) {
				info, err := ts.Lookup(tc.Context())
				if err != nil {
					return nil, err
				}
				tc.Logger().Debug("iptool.current_ip", "ip", info.Address())
				return map[string]string{"ip": info.Address()}, nil
			},
		),
		tool.NewFunctionTool(
			"get_ip_location",
			"Get the geographic location (country, region, city) of the current public IP.",
			noArgs,
			func(tc *core.ToolContext, _ map[string]any) (any, error) {
				info, err := ts.Lookup(tc.Context())
				if err != nil {
					return nil, err
				}
				return Location{
					Country: firstNonEmpty(info.CountryName, info.Country),
					Region:  info.RegionName,
					City:    firstNonEmpty(info.CityName, info.City),
				}, nil
			},
		),
		tool.NewFunctionTool(
			"get_ip_isp",
			"Get the internet service provider and organization of the current public IP.",
			noArgs,
			func(tc *core.ToolContext, _ map[string]any) (any, error) {
				info, err := ts.Lookup(tc.Context())
				if err != nil {
					return nil, err
				}
				return Provider{
					ISP:          info.ISP,
					Organization: firstNonEmpty(info.Organization, info.Org),
				}, nil
			},
		),
	}
}

// Lookup queries the IP information API.
func (ts *Toolset) Lookup(ctx context.Context) (*IPInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.opts.APIURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ts.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ip lookup: unexpected status %d", resp.StatusCode)
	}

	var info IPInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("ip lookup: decode response: %w", err)
	}

	return &info, nil
}
