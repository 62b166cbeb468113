package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lamplight/optin-backend/models"
)

// Adapter is the capability set the pipeline needs from the backends.
type Adapter interface {
	Subscribe(list models.MailingList, email string, name string) models.Outcome
	Unsubscribe(list models.MailingList, email string) models.Outcome
	CheckSubscribed(list models.MailingList, email string) (bool, error)
}

// DefaultTimeout bounds each provider call. A timeout is reported as a
// failed Outcome; the remote side-effect, if any, cannot be undone.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a provider error response we read back
// for the user-visible message.
const maxErrorBody = 4096

// Client issues HTTP calls against the backends it has descriptors
// for, normalizing their responses into Outcomes.
type Client struct {
	descriptors map[string]*Descriptor
	http        *http.Client
}

// NewClient returns a Client serving the given descriptors.
func NewClient(timeout time.Duration, descriptors ...*Descriptor) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		descriptors: make(map[string]*Descriptor),
		http:        &http.Client{Timeout: timeout},
	}
	for _, d := range descriptors {
		c.descriptors[d.Name] = d
	}
	return c
}

// Descriptors returns the descriptors this client serves, for the list
// registry to iterate.
func (c *Client) Descriptors() []*Descriptor {
	ds := make([]*Descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		ds = append(ds, d)
	}
	return ds
}

func (c *Client) descriptor(name string) (*Descriptor, error) {
	d, ok := c.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("no backend descriptor named %s", name)
	}
	return d, nil
}

// Subscribe adds email to the list on its backend.
func (c *Client) Subscribe(list models.MailingList, email string, name string) models.Outcome {
	d, err := c.descriptor(list.Backend)
	if err != nil {
		return models.Outcome{Message: err.Error()}
	}
	endpoint := d.SubscribeEndpoint(d, list)
	params := d.Params(d, list, email, name)
	resp, err := c.do(d, d.SubscribeMethod, endpoint, params)
	if err != nil {
		return models.Outcome{Message: err.Error()}
	}
	return classify(resp, false)
}

// Unsubscribe removes email from the list on its backend. A 404 is
// reported as NotFound rather than a hard error: the address was
// already absent.
func (c *Client) Unsubscribe(list models.MailingList, email string) models.Outcome {
	d, err := c.descriptor(list.Backend)
	if err != nil {
		return models.Outcome{Message: err.Error()}
	}
	endpoint := d.UnsubscribeEndpoint(d, list, email)
	params := d.Params(d, list, email, "")
	resp, err := c.do(d, d.UnsubscribeMethod, endpoint, params)
	if err != nil {
		return models.Outcome{Message: err.Error()}
	}
	return classify(resp, true)
}

// CheckSubscribed reports whether email is currently a member of list.
func (c *Client) CheckSubscribed(list models.MailingList, email string) (bool, error) {
	d, err := c.descriptor(list.Backend)
	if err != nil {
		return false, err
	}
	endpoint := d.CheckEndpoint(d, list, email)
	resp, err := c.do(d, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return false, err
	}
	return d.ValidCheckResponse(resp.StatusCode, body), nil
}

// FetchLists pulls the mailing lists advertised by one descriptor.
func (c *Client) FetchLists(d *Descriptor) ([]models.MailingList, error) {
	if d.ListsEndpoint == nil {
		return nil, nil
	}
	resp, err := c.do(d, http.MethodGet, d.ListsEndpoint(d), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend %s list fetch returned status %d", d.Name, resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return d.ParseLists(d, body)
}

// do builds and issues one request per the descriptor's conventions.
func (c *Client) do(d *Descriptor, method string, endpoint string, params url.Values) (*http.Response, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend %s produced an invalid endpoint: %v", d.Name, err)
	}
	header := make(map[string]string)
	query := target.Query()
	if d.Authorize != nil {
		d.Authorize(d, query, header)
	}
	target.RawQuery = query.Encode()

	var body io.Reader
	if params != nil && method != http.MethodGet {
		switch d.Encoding {
		case EncodeJSON:
			flat := make(map[string]string, len(params))
			for k := range params {
				flat[k] = params.Get(k)
			}
			encoded, err := json.Marshal(flat)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(encoded)
			header["Content-Type"] = "application/json"
		default:
			body = strings.NewReader(params.Encode())
			header["Content-Type"] = "application/x-www-form-urlencoded"
		}
	}
	req, err := http.NewRequest(method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return c.http.Do(req)
}

// classify turns a provider response into an Outcome. 2xx is success;
// 404 on unsubscribe means the address was never there; anything else
// is a failure carrying whatever message we can extract from the body.
func classify(resp *http.Response, unsubscribe bool) models.Outcome {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.Outcome{Success: true}
	}
	body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if unsubscribe && resp.StatusCode == http.StatusNotFound {
		return models.Outcome{NotFound: true, Message: extractMessage(body)}
	}
	msg := extractMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", resp.StatusCode)
	}
	return models.Outcome{Message: msg}
}

// extractMessage pulls a human-readable error out of a provider
// response body. Providers disagree on the field name, so try the
// usual suspects before falling back to the raw body.
func extractMessage(body []byte) string {
	var fields struct {
		Message string `json:"message"`
		Title   string `json:"title"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, msg := range []string{fields.Message, fields.Title, fields.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(body))
}
