package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/grafana/dskit/user"
	jsoniter "github.com/json-iterator/go"

	"github.com/cairndb/cairn/pkg/model"
)

type queryTraceCmd struct {
	APIEndpoint string `arg:"" help:"cairn api endpoint, e.g. http://localhost:3200"`
	TraceID     string `arg:"" help:"trace id to query"`

	OrgID string `help:"org id to pass with the request"`
}

func (q *queryTraceCmd) Run(_ *globalOptions) error {
	client := http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest(http.MethodGet, q.APIEndpoint+"/api/traces/"+q.TraceID, nil)
	if err != nil {
		return err
	}

	if len(q.OrgID) > 0 {
		req.Header.Set(user.OrgIDHeaderName, q.OrgID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s request failed with response: %d body: %s", req.URL.String(), resp.StatusCode, string(body))
	}

	trace := &model.Trace{}
	err = jsoniter.NewDecoder(resp.Body).Decode(trace)
	if err != nil {
		return fmt.Errorf("error decoding trace json, err: %w", err)
	}

	out, err := jsoniter.MarshalIndent(trace, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}
