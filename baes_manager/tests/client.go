package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// statusError is returned by Do when the api responds with a non 2xx status.
type statusError struct {
	method   string
	endpoint string
	status   int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", e.method, e.endpoint, e.status, e.body)
}

// message returns the "error" field of a json error body.
func (e *statusError) message() string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.body), &body); err != nil {
		return ""
	}
	return body.Error
}

func (r *httpTestRequest) Send() *httptest.ResponseRecorder {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			panic(fmt.Sprintf("error encoding json body for endpoint %v: %v", r.endpoint, err))
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	return w
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	w := r.Send()

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &statusError{method: r.method, endpoint: r.endpoint, status: res.StatusCode, body: w.Body.String()}
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

func requireStatus(t *testing.T, err error, status int, message string) {
	t.Helper()

	var serr *statusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected request to fail with status %d, got error: %v", status, err)
	}
	if serr.status != status {
		t.Fatalf("expected status %d, got %v", status, serr)
	}
	if message != "" && serr.message() != message {
		t.Fatalf("expected error message '%v', got '%v'", message, serr.message())
	}
}

type client struct {
	api chi.Router
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return newHttpTestRequest(c.api, "GET", endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return newHttpTestRequest(c.api, "POST", endpoint)
}

func (c *client) Put(endpoint string) *httpTestRequest {
	return newHttpTestRequest(c.api, "PUT", endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return newHttpTestRequest(c.api, "DELETE", endpoint)
}

type idResponse struct {
	Id uint `json:"id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (c *client) createSite(name string) (uint, error) {
	var res idResponse
	err := c.Post("/sites").Json(map[string]string{"name": name}).Do(&res)
	return res.Id, err
}

func (c *client) createBatiment(name string, siteId *uint) (uint, error) {
	body := map[string]interface{}{"name": name, "polygon_points": [][]float64{{0, 0}, {0, 10}, {10, 10}}}
	if siteId != nil {
		body["site_id"] = *siteId
	}
	var res idResponse
	err := c.Post("/batiments").Json(body).Do(&res)
	return res.Id, err
}

func (c *client) createEtage(name string, batimentId uint) (uint, error) {
	var res idResponse
	err := c.Post("/etages").Json(map[string]interface{}{"name": name, "batiment_id": batimentId}).Do(&res)
	return res.Id, err
}

func (c *client) createBaes(name string, etageId uint) (uint, error) {
	body := map[string]interface{}{
		"name":     name,
		"position": map[string]float64{"x": 1.5, "y": 2.5},
		"etage_id": etageId,
	}
	var res idResponse
	err := c.Post("/baes").Json(body).Do(&res)
	return res.Id, err
}

type uploadResponse struct {
	Message string `json:"message"`
	Chemin  string `json:"chemin"`
	Id      uint   `json:"id"`
}

// multipartBody builds an upload form, empty fields are omitted.
func multipartBody(filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			panic(err)
		}
	}

	if filename != "" || content != nil {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			panic(err)
		}
		if _, err := part.Write(content); err != nil {
			panic(err)
		}
	}

	if err := writer.Close(); err != nil {
		panic(err)
	}

	return body, writer.FormDataContentType()
}

func (c *client) uploadCarte(filename string, content []byte, fields map[string]string) (uploadResponse, error) {
	body, contentType := multipartBody(filename, content, fields)

	var res uploadResponse
	err := c.Post("/cartes/upload-carte").Header("Content-Type", contentType).Body(body).Do(&res)
	return res, err
}

func (c *client) uploadCarteToEtage(etageId uint, content []byte) (uploadResponse, error) {
	return c.uploadCarte("plan.png", content, map[string]string{"etage_id": strconv.Itoa(int(etageId))})
}

func (c *client) uploadCarteToSite(siteId uint, content []byte) (uploadResponse, error) {
	return c.uploadCarte("plan.jpg", content, map[string]string{"site_id": strconv.Itoa(int(siteId))})
}

func (c *client) createRole(name string) (uint, error) {
	var res idResponse
	err := c.Post("/roles").Json(map[string]string{"name": name}).Do(&res)
	return res.Id, err
}

func (c *client) createUser(login, password string, roles []string) (uint, error) {
	body := map[string]interface{}{"login": login, "password": password}
	if roles != nil {
		body["roles"] = roles
	}
	var res idResponse
	err := c.Post("/users").Json(body).Do(&res)
	return res.Id, err
}
