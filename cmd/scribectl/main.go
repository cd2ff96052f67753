package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

var version = "0.1.0-dev"

const usage = `usage: scribectl <command> [flags]

commands:
  start    begin recording a meeting
  stop     stop the active meeting and print the final record
  status   print the snapshot of the currently active meeting
  live     print the live transcript snapshot of a meeting
  list     list stored meetings
  search   search stored meetings by name or transcript
  show     print one stored meeting
  version  print version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "live":
		err = runLive(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "search":
		err = runSearch(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addServerFlag(fs *flag.FlagSet) *string {
	return fs.String("server", envOr("SCRIBECTL_SERVER", "http://localhost:8080"), "Agent base URL")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	server := addServerFlag(fs)
	name := fs.String("name", "", "Meeting name")
	participants := fs.String("participants", "", "Comma-separated participant names")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("start: -name is required")
	}
	payload := map[string]any{"name": *name}
	if *participants != "" {
		var people []string
		for _, p := range strings.Split(*participants, ",") {
			if s := strings.TrimSpace(p); s != "" {
				people = append(people, s)
			}
		}
		payload["participants"] = people
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return doRequest(http.MethodPost, *server+"/api/meetings", bytes.NewReader(body))
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	server := addServerFlag(fs)
	id := fs.String("id", "", "Meeting id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("stop: -id is required")
	}
	return doRequest(http.MethodPost, *server+"/api/meetings/"+url.PathEscape(*id)+"/stop", nil)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := addServerFlag(fs)
	fs.Parse(args)

	return doRequest(http.MethodGet, *server+"/api/meetings/active", nil)
}

func runLive(args []string) error {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	server := addServerFlag(fs)
	id := fs.String("id", "", "Meeting id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("live: -id is required")
	}
	return doRequest(http.MethodGet, *server+"/api/meetings/"+url.PathEscape(*id)+"/live", nil)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	server := addServerFlag(fs)
	status := fs.String("status", "", "Filter by status (finalized, aborted)")
	limit := fs.Int("limit", 0, "Maximum number of results")
	fs.Parse(args)

	params := url.Values{}
	if *status != "" {
		params.Set("status", *status)
	}
	if *limit > 0 {
		params.Set("limit", strconv.Itoa(*limit))
	}
	endpoint := *server + "/api/meetings"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return doRequest(http.MethodGet, endpoint, nil)
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	server := addServerFlag(fs)
	query := fs.String("q", "", "Search query")
	limit := fs.Int("limit", 0, "Maximum number of results")
	fs.Parse(args)

	if *query == "" {
		return fmt.Errorf("search: -q is required")
	}
	params := url.Values{}
	params.Set("q", *query)
	if *limit > 0 {
		params.Set("limit", strconv.Itoa(*limit))
	}
	return doRequest(http.MethodGet, *server+"/api/meetings?"+params.Encode(), nil)
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	server := addServerFlag(fs)
	id := fs.String("id", "", "Meeting id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("show: -id is required")
	}
	return doRequest(http.MethodGet, *server+"/api/meetings/"+url.PathEscape(*id), nil)
}

func doRequest(method, endpoint string, body io.Reader) error {
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
