package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lamplight/optin-backend/models"
)

// Mailman returns a descriptor for a Mailman 3 REST core. Requests are
// JSON-encoded and authenticated with HTTP Basic credentials.
func Mailman(baseURL string, user string, key string) *Descriptor {
	return &Descriptor{
		Name:              "mailman",
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		AuthUser:          user,
		AuthKey:           key,
		SubscribeMethod:   http.MethodPost,
		UnsubscribeMethod: http.MethodDelete,
		Encoding:          EncodeJSON,
		SubscribeEndpoint: func(d *Descriptor, list models.MailingList) string {
			return fmt.Sprintf("%s/3.1/members", d.BaseURL)
		},
		UnsubscribeEndpoint: func(d *Descriptor, list models.MailingList, email string) string {
			return fmt.Sprintf("%s/3.1/lists/%s/member/%s",
				d.BaseURL, url.PathEscape(list.Address), url.PathEscape(email))
		},
		CheckEndpoint: func(d *Descriptor, list models.MailingList, email string) string {
			return fmt.Sprintf("%s/3.1/lists/%s/member/%s",
				d.BaseURL, url.PathEscape(list.Address), url.PathEscape(email))
		},
		Params: func(d *Descriptor, list models.MailingList, email string, name string) url.Values {
			params := url.Values{}
			params.Set("list_id", mailmanListID(list.Address))
			params.Set("subscriber", email)
			if name != "" {
				params.Set("display_name", name)
			}
			params.Set("pre_verified", "true")
			params.Set("pre_confirmed", "true")
			return params
		},
		Authorize: func(d *Descriptor, q url.Values, header map[string]string) {
			credentials := fmt.Sprintf("%s:%s", d.AuthUser, d.AuthKey)
			header["Authorization"] = "Basic " +
				base64.StdEncoding.EncodeToString([]byte(credentials))
		},
		ValidCheckResponse: func(status int, body []byte) bool {
			// Member lookup 404s when the address isn't subscribed.
			return status >= 200 && status < 300
		},
		ListsEndpoint: func(d *Descriptor) string {
			return fmt.Sprintf("%s/3.1/lists", d.BaseURL)
		},
		ParseLists: parseMailmanLists,
	}
}

// mailmanListID converts a posting address into Mailman's dotted list
// id form: announce@lists.example.org -> announce.lists.example.org.
func mailmanListID(address string) string {
	return strings.Replace(address, "@", ".", 1)
}

func parseMailmanLists(d *Descriptor, body []byte) ([]models.MailingList, error) {
	var page struct {
		Entries []struct {
			FQDNListname string `json:"fqdn_listname"`
			DisplayName  string `json:"display_name"`
			Description  string `json:"description"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("could not parse mailman list page: %v", err)
	}
	lists := make([]models.MailingList, 0, len(page.Entries))
	for _, entry := range page.Entries {
		lists = append(lists, models.MailingList{
			Address:     entry.FQDNListname,
			Name:        entry.DisplayName,
			Description: entry.Description,
			Backend:     d.Name,
		})
	}
	return lists, nil
}

// Mailtrain returns a descriptor for a Mailtrain instance. Requests
// are form-encoded with the access token embedded in the query string.
func Mailtrain(baseURL string, accessToken string) *Descriptor {
	return &Descriptor{
		Name:              "mailtrain",
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		AuthKey:           accessToken,
		SubscribeMethod:   http.MethodPost,
		UnsubscribeMethod: http.MethodPost,
		Encoding:          EncodeForm,
		SubscribeEndpoint: func(d *Descriptor, list models.MailingList) string {
			return fmt.Sprintf("%s/api/subscribe/%s", d.BaseURL, url.PathEscape(mailtrainListID(list)))
		},
		UnsubscribeEndpoint: func(d *Descriptor, list models.MailingList, email string) string {
			return fmt.Sprintf("%s/api/unsubscribe/%s", d.BaseURL, url.PathEscape(mailtrainListID(list)))
		},
		CheckEndpoint: func(d *Descriptor, list models.MailingList, email string) string {
			return fmt.Sprintf("%s/api/subscription/%s?email=%s",
				d.BaseURL, url.PathEscape(mailtrainListID(list)), url.QueryEscape(email))
		},
		Params: func(d *Descriptor, list models.MailingList, email string, name string) url.Values {
			params := url.Values{}
			params.Set("EMAIL", email)
			if name != "" {
				params.Set("FIRST_NAME", name)
			}
			params.Set("REQUIRE_CONFIRMATION", "no")
			return params
		},
		Authorize: func(d *Descriptor, q url.Values, header map[string]string) {
			q.Set("access_token", d.AuthKey)
		},
		ValidCheckResponse: func(status int, body []byte) bool {
			if status < 200 || status >= 300 {
				return false
			}
			var lookup struct {
				Data struct {
					Status string `json:"status"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &lookup); err != nil {
				return false
			}
			return lookup.Data.Status == "subscribed"
		},
		ListsEndpoint: func(d *Descriptor) string {
			return fmt.Sprintf("%s/api/lists", d.BaseURL)
		},
		ParseLists: parseMailtrainLists,
	}
}

// mailtrainListID is the path id Mailtrain keys lists by. Lists
// fetched from Mailtrain carry their cid in the Address field.
func mailtrainListID(list models.MailingList) string {
	return list.Address
}

func parseMailtrainLists(d *Descriptor, body []byte) ([]models.MailingList, error) {
	var page struct {
		Data []struct {
			CID         string `json:"cid"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("could not parse mailtrain list response: %v", err)
	}
	lists := make([]models.MailingList, 0, len(page.Data))
	for _, entry := range page.Data {
		lists = append(lists, models.MailingList{
			Address:     entry.CID,
			Name:        entry.Name,
			Description: entry.Description,
			Backend:     d.Name,
		})
	}
	return lists, nil
}
