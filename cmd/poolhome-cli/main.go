package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	base := "http://" + resolveAddr()
	client := &http.Client{Timeout: 10 * time.Second}

	switch os.Args[1] {
	case "status":
		get(client, base+"/dolphin/status")
	case "health":
		get(client, base+"/plugins/health")
	case "clean":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		switch os.Args[2] {
		case "start":
			post(client, base+"/dolphin/clean/start", "")
		case "stop":
			post(client, base+"/dolphin/clean/stop", "")
		default:
			usage()
			os.Exit(2)
		}
	case "mode":
		if len(os.Args) < 3 {
			fatal("mode", fmt.Errorf("missing cleaning mode"))
		}
		post(client, base+"/dolphin/mode", fmt.Sprintf(`{"mode":%q}`, os.Args[2]))
	case "drive":
		if len(os.Args) < 3 {
			fatal("drive", fmt.Errorf("missing direction"))
		}
		if os.Args[2] == "exit" {
			post(client, base+"/dolphin/drive/exit", "")
			return
		}
		post(client, base+"/dolphin/drive", fmt.Sprintf(`{"direction":%q}`, os.Args[2]))
	default:
		usage()
		os.Exit(2)
	}
}

func get(client *http.Client, url string) {
	resp, err := client.Get(url)
	if err != nil {
		fatal("get", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func post(client *http.Client, url, body string) {
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		fatal("post", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal("read response", err)
	}
	if resp.StatusCode >= 400 {
		fatal("request", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if len(data) == 0 {
		fmt.Println("ok")
		return
	}

	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println(strings.TrimSpace(string(data)))
}

func resolveAddr() string {
	if value := os.Getenv("POOLHOME_HTTP_ADDR"); value != "" {
		if rest, ok := strings.CutPrefix(value, "0.0.0.0"); ok {
			return "localhost" + rest
		}
		return value
	}
	return "localhost:8080"
}

func usage() {
	fmt.Println("poolhome-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  status")
	fmt.Println("  health")
	fmt.Println("  clean start|stop")
	fmt.Println("  mode <cleaning_mode>")
	fmt.Println("  drive <direction>|exit")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
