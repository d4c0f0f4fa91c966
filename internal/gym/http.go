package gym

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient talks to the gym reservation service. The service is fronted
// by a CAS-style login and is hostile to automation, so every request goes
// through a shared rate limiter and carries browser-like headers.
type HTTPClient struct {
	hc      *http.Client
	base    string
	limiter *rate.Limiter
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

// NewHTTPClient builds a client for the service at base (no trailing
// slash). rps bounds outbound requests per second; zero means a
// conservative default of one request per second.
func NewHTTPClient(base string, rps float64) *HTTPClient {
	if rps <= 0 {
		rps = 1
	}
	return &HTTPClient{
		hc:      &http.Client{Timeout: 15 * time.Second},
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Login(ctx context.Context, username, password string) (Session, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	loginURL := c.base + "/app/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	c.decorate(req, nil)

	// The CAS flow scatters cookies across redirect hops, not just the
	// final response. A jar scoped to this one login collects them all
	// without mixing accounts in the shared client.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: c.hc.Timeout, Jar: jar}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: login: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: login status %d", ErrAuth, res.StatusCode)
	}
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: login status %d", ErrTransient, res.StatusCode)
	}

	u, err := url.Parse(loginURL)
	if err != nil {
		return nil, err
	}
	sess := Session{}
	for _, ck := range jar.Cookies(u) {
		sess[ck.Name] = ck.Value
	}
	// A login that sets no cookies authenticated nothing, whatever the
	// status line said.
	if len(sess) == 0 {
		return nil, fmt.Errorf("%w: login returned no session cookies", ErrAuth)
	}
	return sess, nil
}

func (c *HTTPClient) Campuses(ctx context.Context, s Session) ([]Campus, error) {
	var out []Campus
	if err := c.getJSON(ctx, s, "/app/campus/list.html", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Facilities(ctx context.Context, s Session, campus Campus) ([]Facility, error) {
	var raw []struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	q := url.Values{"areacode": {campus.Code}, "remark": {"defaultProList"}}
	if err := c.getJSON(ctx, s, "/app/product/productDataByarea.html", q, &raw); err != nil {
		return nil, err
	}
	out := make([]Facility, 0, len(raw))
	for _, f := range raw {
		out = append(out, Facility{Name: f.Name, ServiceID: f.ID})
	}
	return out, nil
}

func (c *HTTPClient) Areas(ctx context.Context, s Session, facility Facility, date string) ([]Area, error) {
	var raw struct {
		Object []struct {
			SName string      `json:"sname"`
			ID    json.Number `json:"id"`
			Stock struct {
				SDate     string `json:"s_date"`
				TimeNo    string `json:"time_no"`
				ServiceID string `json:"serviceid"`
			} `json:"stock"`
			StockID json.Number `json:"stockid"`
		} `json:"object"`
	}
	q := url.Values{"s_date": {date}, "serviceid": {facility.ServiceID}}
	if err := c.getJSON(ctx, s, "/app/product/findOkArea.html", q, &raw); err != nil {
		return nil, err
	}
	out := make([]Area, 0, len(raw.Object))
	for _, a := range raw.Object {
		out = append(out, Area{
			SName:     a.SName,
			SDate:     a.Stock.SDate,
			TimeNo:    a.Stock.TimeNo,
			ServiceID: a.Stock.ServiceID,
			AreaID:    a.ID.String(),
			StockID:   a.StockID.String(),
		})
	}
	return out, nil
}

func (c *HTTPClient) Book(ctx context.Context, s Session, area Area) (Order, error) {
	param, _ := json.Marshal(map[string]any{
		"stockdetail": map[string]string{area.StockID: area.AreaID},
		"serviceid":   area.ServiceID,
		"stockid":     area.StockID,
		"remark":      "",
	})
	form := url.Values{
		"param": {string(param)},
		"num":   {"1"},
		"json":  {"true"},
	}

	var raw struct {
		Result  string `json:"result"`
		Message string `json:"message"`
		Object  struct {
			OrderID json.Number `json:"orderid"`
			Order   struct {
				CreateDate string `json:"createdate"`
			} `json:"order"`
		} `json:"object"`
	}
	if err := c.postJSON(ctx, s, "/app/order/tobook.html", form, &raw); err != nil {
		return Order{}, err
	}
	// result "2" is the service's booked state; everything else means the
	// stock was not granted to us.
	if raw.Result != "2" {
		return Order{}, fmt.Errorf("%w: result=%s message=%s", ErrSlotUnavailable, raw.Result, raw.Message)
	}
	return Order{OrderID: raw.Object.OrderID.String(), CreateDate: raw.Object.Order.CreateDate}, nil
}

func (c *HTTPClient) Pay(ctx context.Context, s Session, order Order) error {
	param, _ := json.Marshal(map[string]any{
		"payid":      2,
		"orderid":    order.OrderID,
		"ctypeindex": 0,
	})
	form := url.Values{
		"param": {string(param)},
		"json":  {"true"},
	}
	var raw struct {
		Result  string `json:"result"`
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, s, "/app/pay/account/topay.html", form, &raw); err != nil {
		return err
	}
	if raw.Result != "1" && raw.Result != "2" {
		return fmt.Errorf("pay rejected: result=%s message=%s", raw.Result, raw.Message)
	}
	return nil
}

// --- request plumbing ---

func (c *HTTPClient) getJSON(ctx context.Context, s Session, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}
	c.decorate(req, s)
	return c.doJSON(ctx, req, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, s Session, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	c.decorate(req, s)
	return c.doJSON(ctx, req, out)
}

func (c *HTTPClient) doJSON(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTransient, req.URL.Path, err)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s status %d", ErrAuth, req.URL.Path, res.StatusCode)
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: %s status %d", ErrTransient, req.URL.Path, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("%s status %d: %s", req.URL.Path, res.StatusCode, truncate(body, 200))
	}
	// The service answers auth lapses on API routes with a redirect to the
	// login page rather than a status code.
	if strings.HasPrefix(strings.TrimSpace(string(body)), "<") {
		return fmt.Errorf("%w: %s returned login page", ErrAuth, req.URL.Path)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransient, req.URL.Path, err)
	}
	return nil
}

func (c *HTTPClient) decorate(req *http.Request, s Session) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", c.base)
	req.Header.Set("Referer", c.base+"/app/index.html")
	for name, value := range s {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
