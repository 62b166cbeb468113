package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	raven "github.com/getsentry/raven-go"

	"github.com/lamplight/optin-backend/lists"
	"github.com/lamplight/optin-backend/models"
	"github.com/lamplight/optin-backend/pipeline"
)

////////////////////////////////
//  *****   REST API   *****  //
////////////////////////////////

// API is the HTTP surface this service provides.
// All requests respond with a response JSON, with fields:
// {
//     status_code // HTTP status code of request
//     message // Any message accompanying the status_code. If 200, empty.
//     response // Response data (as JSON) from this request.
// }
// Any POST request accepts either URL query parameters or data value
// parameters, and prefers the latter if both are present.
type API struct {
	Pipeline *pipeline.Pipeline
	Lists    *lists.Registry
}

type response struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Response   interface{} `json:"response"`
}

type apiHandler func(r *http.Request) response

func (api *API) wrapper(handler apiHandler) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		response := handler(r)
		if response.StatusCode == http.StatusInternalServerError {
			packet := raven.NewPacket(response.Message, raven.NewHttp(r))
			raven.Capture(packet, nil)
		}
		writeJSON(w, response)
	}
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// RegisterHandlers binds API functions to the given http server,
// and returns the resulting handler.
func (api *API) RegisterHandlers(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/api/subscribe", api.wrapper(api.subscribe))
	mux.HandleFunc("/api/unsubscribe", api.wrapper(api.unsubscribe))
	mux.HandleFunc("/api/confirm", api.wrapper(api.confirm))
	mux.HandleFunc("/api/csrf", api.wrapper(api.csrf))
	mux.HandleFunc("/api/lists", api.wrapper(api.lists))
	mux.HandleFunc("/api/ping", pingHandler)
	return middleware(mux)
}

// Subscribe is the handler for /api/subscribe
//   POST /api/subscribe
//        email: Address to subscribe.
//        list: Mailing list address.
//        name (optional): Display name for the subscription.
//        csrf: Token previously issued by GET /api/csrf.
//        website: Honeypot; humans leave it empty.
func (api API) subscribe(r *http.Request) response {
	return api.intake(r, models.ActionSubscribe)
}

// Unsubscribe is the handler for /api/unsubscribe; same fields as
// /api/subscribe, minus name.
func (api API) unsubscribe(r *http.Request) response {
	return api.intake(r, models.ActionUnsubscribe)
}

func (api API) intake(r *http.Request, action models.Action) response {
	if r.Method != http.MethodPost {
		return response{StatusCode: http.StatusMethodNotAllowed,
			Message: fmt.Sprintf("/api/%s only accepts POST requests", action)}
	}
	email, err := getParam("email", r)
	if err != nil {
		return response{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	list, err := getParam("list", r)
	if err != nil {
		return response{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	result := api.Pipeline.Submit(pipeline.Submission{
		Email:    email,
		Name:     r.FormValue("name"),
		List:     list,
		Action:   action,
		IP:       clientIP(r),
		CSRF:     r.FormValue("csrf"),
		Honeypot: r.FormValue("website"),
	})
	return renderResult(result)
}

// Confirm is the handler for /api/confirm
//   GET /api/confirm?token=<token>
//        Redeems a confirmation token and applies the change.
func (api API) confirm(r *http.Request) response {
	if r.Method != http.MethodGet {
		return response{StatusCode: http.StatusMethodNotAllowed,
			Message: "/api/confirm only accepts GET requests"}
	}
	// Token keys are case-sensitive, so don't run them through getParam.
	key := r.FormValue("token")
	if key == "" {
		return response{StatusCode: http.StatusBadRequest,
			Message: "query parameter token not specified"}
	}
	return renderResult(api.Pipeline.Confirm(key))
}

// CSRF is the handler for /api/csrf
//   GET /api/csrf
//        Issues (or re-serves) the form token for the caller's IP.
func (api API) csrf(r *http.Request) response {
	key, err := api.Pipeline.CSRF().IssueOrReuse(clientIP(r))
	if err != nil {
		return response{StatusCode: http.StatusInternalServerError, Message: err.Error()}
	}
	return response{StatusCode: http.StatusOK, Response: key}
}

// Lists is the handler for /api/lists
//   GET /api/lists
//        Returns the mailing lists currently open for signup.
func (api API) lists(r *http.Request) response {
	return response{StatusCode: http.StatusOK, Response: api.Lists.All()}
}

// renderResult maps a pipeline result onto an HTTP response.
func renderResult(result pipeline.Result) response {
	code := http.StatusOK
	switch result.Status {
	case pipeline.StatusInvalid, pipeline.StatusTokenInvalid:
		code = http.StatusBadRequest
	case pipeline.StatusRejected:
		code = http.StatusForbidden
	case pipeline.StatusBusy:
		code = http.StatusServiceUnavailable
	case pipeline.StatusEmailError, pipeline.StatusBackendError:
		code = http.StatusInternalServerError
	}
	if code != http.StatusOK {
		return response{StatusCode: code, Message: result.Message, Response: result}
	}
	return response{StatusCode: code, Response: result}
}

// clientIP extracts the submitting client's IP, trusting the first
// X-Forwarded-For hop when present (we sit behind a proxy in
// production, matching the throttle middleware's configuration).
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Retrieves and lowercases `param` as a query parameter from `http.Request` r.
// If fails, then returns an error.
func getParam(param string, r *http.Request) (string, error) {
	unicode := r.FormValue(param)
	if unicode == "" {
		return "", fmt.Errorf("query parameter %s not specified", param)
	}
	return strings.ToLower(unicode), nil
}

// Writes an API response as a JSON object to http.ResponseWriter `w`.
func writeJSON(w http.ResponseWriter, apiResponse response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiResponse.StatusCode)
	b, err := json.MarshalIndent(apiResponse, "", "  ")
	if err != nil {
		msg := fmt.Sprintf("Internal error: could not format JSON. (%s)\n", err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "%s\n", b)
}
