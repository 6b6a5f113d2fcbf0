package designer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

const MinProjectTitleLength = 3

// client for the project service that stores exported designs
// The service is outside this module. Only the calls the designer makes are here.
type ProjectApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	jwt string
}

func NewProjectApi(apiUrl string) *ProjectApi {
	return NewProjectApiWithContext(context.Background(), apiUrl)
}

func NewProjectApiWithContext(ctx context.Context, apiUrl string) *ProjectApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ProjectApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: strings.TrimSuffix(apiUrl, "/"),
	}
}

// this gets attached to every call
func (self *ProjectApi) SetJwt(jwt string) {
	self.jwt = jwt
}

func (self *ProjectApi) Close() {
	self.cancel()
}

type SaveProjectArgs struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     *Project `json:"content"`
}

func (self *SaveProjectArgs) Validate() error {
	title := strings.TrimSpace(self.Title)
	if title == "" {
		return errors.New("title is required")
	}
	if len([]rune(title)) < MinProjectTitleLength {
		return fmt.Errorf("title must be at least %d characters", MinProjectTitleLength)
	}
	if self.Content == nil {
		return errors.New("content is required")
	}
	return nil
}

type ProjectSummary struct {
	Id          string `json:"ID"`
	Title       string `json:"title"`
	Description string `json:"description"`
	UpdatedAt   string `json:"updated_at"`
}

// a saved project. The content is whatever the saving client exported.
type ProjectRecord struct {
	ProjectSummary
	Content *Project `json:"content,omitempty"`
}

type SaveProjectCallback apiCallback[*ProjectRecord]

func (self *ProjectApi) SaveProject(args *SaveProjectArgs, callback SaveProjectCallback) {
	go self.SaveProjectSync(args, callback)
}

func (self *ProjectApi) SaveProjectSync(args *SaveProjectArgs, callback SaveProjectCallback) (*ProjectRecord, error) {
	if err := args.Validate(); err != nil {
		callback.Result(nil, err)
		return nil, err
	}
	trimmedArgs := &SaveProjectArgs{
		Title:       strings.TrimSpace(args.Title),
		Description: strings.TrimSpace(args.Description),
		Content:     args.Content,
	}
	return post(
		self.ctx,
		fmt.Sprintf("%s/projects/", self.apiUrl),
		trimmedArgs,
		self.jwt,
		&ProjectRecord{},
		callback,
	)
}

type ListProjectsCallback apiCallback[[]*ProjectSummary]

func (self *ProjectApi) ListProjects(callback ListProjectsCallback) {
	go self.ListProjectsSync(callback)
}

func (self *ProjectApi) ListProjectsSync(callback ListProjectsCallback) ([]*ProjectSummary, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/projects/", self.apiUrl),
		self.jwt,
		[]*ProjectSummary{},
		callback,
	)
}

type GetProjectCallback apiCallback[*ProjectRecord]

func (self *ProjectApi) GetProject(id string, callback GetProjectCallback) {
	go self.GetProjectSync(id, callback)
}

func (self *ProjectApi) GetProjectSync(id string, callback GetProjectCallback) (*ProjectRecord, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/projects/%s", self.apiUrl, url.PathEscape(id)),
		self.jwt,
		&ProjectRecord{},
		callback,
	)
}

func post[R any](ctx context.Context, url string, args any, jwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	return do(req, jwt, result, callback)
}

func get[R any](ctx context.Context, url string, jwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return do(req, jwt, result, callback)
}

func do[R any](req *http.Request, jwt string, result R, callback apiCallback[R]) (R, error) {
	if jwt != "" {
		auth := fmt.Sprintf("Bearer %s", jwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		if errorMessage == "" {
			errorMessage = r.Status
		}
		var empty R
		err = errors.New(errorMessage)
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
