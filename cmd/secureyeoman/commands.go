package main

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

func runStatus(args []string, stdout, stderr io.Writer) int {
	g := newFlagSet("status", stderr)
	if g.fs.Parse(args) != nil {
		return 2
	}
	c := g.client(stdout, stderr)

	var health struct {
		Status string `json:"status"`
	}
	if code := c.call(http.MethodGet, "/health", nil, &health); code != 0 {
		return code
	}

	var status map[string]any
	if code := c.call(http.MethodGet, "/api/v1/system/status", nil, &status); code != 0 {
		return code
	}
	if !c.json {
		fmt.Fprintf(stdout, "Health:   %s\n", health.Status)
		for _, key := range []string{"version", "uptimeSeconds", "defaultProvider", "defaultModel", "integrations", "auditEntries"} {
			if v, ok := status[key]; ok {
				fmt.Fprintf(stdout, "%-9s %v\n", key+":", v)
			}
		}
	}
	return 0
}

func runModel(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: secureyeoman model <info|list|switch|default> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]
	g := newFlagSet("model "+sub, stderr)

	switch sub {
	case "info":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var info struct {
			Provider  string   `json:"provider"`
			Model     string   `json:"model"`
			Providers []string `json:"providers"`
		}
		if code := c.call(http.MethodGet, "/api/v1/model/info", nil, &info); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "Default:   %s/%s\n", info.Provider, info.Model)
			fmt.Fprintf(stdout, "Providers: %v\n", info.Providers)
		}
		return 0

	case "list":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var list struct {
			Available []struct {
				Provider  string  `json:"provider"`
				Model     string  `json:"model"`
				Tier      string  `json:"tier"`
				InputPerM float64 `json:"inputPerM"`
			} `json:"available"`
		}
		if code := c.call(http.MethodGet, "/api/v1/model/list", nil, &list); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "%-12s %-32s %-10s %s\n", "PROVIDER", "MODEL", "TIER", "$/M IN")
			for _, m := range list.Available {
				fmt.Fprintf(stdout, "%-12s %-32s %-10s %.2f\n", m.Provider, m.Model, m.Tier, m.InputPerM)
			}
		}
		return 0

	case "switch":
		provider := g.fs.String("provider", "", "provider name")
		model := g.fs.String("model", "", "model name")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		body := map[string]string{"provider": *provider, "model": *model}
		if code := c.call(http.MethodPost, "/api/v1/model/switch", body, nil); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "Default model set to %s/%s\n", *provider, *model)
		}
		return 0

	case "default":
		if len(rest) == 0 {
			fmt.Fprintln(stderr, "Usage: secureyeoman model default <get|set|clear>")
			return 2
		}
		op, opArgs := rest[0], rest[1:]
		switch op {
		case "get":
			if g.fs.Parse(opArgs) != nil {
				return 2
			}
			c := g.client(stdout, stderr)
			var d struct {
				Provider string `json:"provider"`
				Model    string `json:"model"`
			}
			if code := c.call(http.MethodGet, "/api/v1/model/default", nil, &d); code != 0 {
				return code
			}
			if !c.json {
				fmt.Fprintf(stdout, "%s/%s\n", d.Provider, d.Model)
			}
			return 0
		case "set":
			provider := g.fs.String("provider", "", "provider name")
			model := g.fs.String("model", "", "model name")
			if g.fs.Parse(opArgs) != nil {
				return 2
			}
			c := g.client(stdout, stderr)
			body := map[string]string{"provider": *provider, "model": *model}
			return c.call(http.MethodPost, "/api/v1/model/default", body, nil)
		case "clear":
			if g.fs.Parse(opArgs) != nil {
				return 2
			}
			c := g.client(stdout, stderr)
			return c.call(http.MethodDelete, "/api/v1/model/default", nil, nil)
		}
		fmt.Fprintf(stderr, "Unknown model default op: %s\n", op)
		return 2
	}
	fmt.Fprintf(stderr, "Unknown model subcommand: %s\n", sub)
	return 2
}

func runMemory(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: secureyeoman memory <search|memories|stats|consolidate|reindex> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]
	g := newFlagSet("memory "+sub, stderr)

	switch sub {
	case "search":
		k := g.fs.Int("k", 5, "number of results")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if g.fs.NArg() == 0 {
			fmt.Fprintln(stderr, "Usage: secureyeoman memory search <query>")
			return 2
		}
		c := g.client(stdout, stderr)
		var res struct {
			Hits []struct {
				Similarity float32 `json:"similarity"`
				Memory     struct {
					ID      string `json:"id"`
					Content string `json:"content"`
				} `json:"memory"`
			} `json:"hits"`
		}
		body := map[string]any{"query": g.fs.Arg(0), "k": *k}
		if code := c.call(http.MethodPost, "/api/v1/brain/search/similar", body, &res); code != 0 {
			return code
		}
		if !c.json {
			for _, h := range res.Hits {
				fmt.Fprintf(stdout, "%.3f  %s  %s\n", h.Similarity, h.Memory.ID, h.Memory.Content)
			}
		}
		return 0

	case "memories":
		limit := g.fs.Int("limit", 20, "max rows")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var list []struct {
			ID         string  `json:"id"`
			Type       string  `json:"type"`
			Importance float64 `json:"importance"`
			Content    string  `json:"content"`
		}
		path := fmt.Sprintf("/api/v1/brain/memories?limit=%d", *limit)
		if code := c.call(http.MethodGet, path, nil, &list); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "%-28s %-12s %-6s %s\n", "ID", "TYPE", "IMP", "CONTENT")
			for _, m := range list {
				fmt.Fprintf(stdout, "%-28s %-12s %-6.2f %s\n", m.ID, m.Type, m.Importance, m.Content)
			}
		}
		return 0

	case "stats":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var stats map[string]any
		if code := c.call(http.MethodGet, "/api/v1/brain/stats", nil, &stats); code != 0 {
			return code
		}
		if !c.json {
			for k, v := range stats {
				fmt.Fprintf(stdout, "%-20s %v\n", k+":", v)
			}
		}
		return 0

	case "consolidate":
		dryRun := g.fs.Bool("dry-run", false, "report without mutating")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var report map[string]any
		body := map[string]bool{"dryRun": *dryRun}
		if code := c.call(http.MethodPost, "/api/v1/brain/consolidation/run", body, &report); code != 0 {
			return code
		}
		if !c.json {
			for k, v := range report {
				fmt.Fprintf(stdout, "%-16s %v\n", k+":", v)
			}
		}
		return 0

	case "reindex":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var res struct {
			Reindexed int `json:"reindexed"`
		}
		if code := c.call(http.MethodPost, "/api/v1/brain/reindex", nil, &res); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "Reindexed %d memories\n", res.Reindexed)
		}
		return 0
	}
	fmt.Fprintf(stderr, "Unknown memory subcommand: %s\n", sub)
	return 2
}

// runRole manages roles and their assignments. An "assignment" is an API
// key bound to a role, the only principal type besides the built-in admin.
func runRole(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: secureyeoman role <list|create|delete|assign|revoke|assignments> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]
	g := newFlagSet("role "+sub, stderr)

	switch sub {
	case "list":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var roles []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			IsBuiltin bool   `json:"isBuiltin"`
		}
		if code := c.call(http.MethodGet, "/api/v1/roles", nil, &roles); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "%-28s %-24s %s\n", "ID", "NAME", "BUILTIN")
			for _, r := range roles {
				fmt.Fprintf(stdout, "%-28s %-24s %v\n", r.ID, r.Name, r.IsBuiltin)
			}
		}
		return 0

	case "create":
		name := g.fs.String("name", "", "role name")
		resource := g.fs.String("resource", "*", "resource pattern")
		action := g.fs.String("action", "read", "action pattern")
		inherit := g.fs.String("inherit", "", "parent role id")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if *name == "" {
			fmt.Fprintln(stderr, "Error: --name is required")
			return 1
		}
		c := g.client(stdout, stderr)
		body := map[string]any{
			"name":        *name,
			"permissions": []map[string]string{{"resource": *resource, "action": *action}},
		}
		if *inherit != "" {
			body["inheritFrom"] = []string{*inherit}
		}
		var role struct {
			ID string `json:"id"`
		}
		if code := c.call(http.MethodPost, "/api/v1/roles", body, &role); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "Created role %s\n", role.ID)
		}
		return 0

	case "delete":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if g.fs.NArg() == 0 {
			fmt.Fprintln(stderr, "Usage: secureyeoman role delete <id>")
			return 2
		}
		c := g.client(stdout, stderr)
		return c.call(http.MethodDelete, "/api/v1/roles/"+g.fs.Arg(0), nil, nil)

	case "assign":
		name := g.fs.String("name", "", "key display name")
		role := g.fs.String("role", "", "role id")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if *name == "" || *role == "" {
			fmt.Fprintln(stderr, "Error: --name and --role are required")
			return 1
		}
		c := g.client(stdout, stderr)
		var created struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		}
		body := map[string]string{"name": *name, "role": *role}
		if code := c.call(http.MethodPost, "/api/v1/auth/api-keys", body, &created); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "Key id: %s\n", created.ID)
			fmt.Fprintf(stdout, "Secret: %s  (shown once, store it now)\n", created.Key)
		}
		return 0

	case "revoke":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if g.fs.NArg() == 0 {
			fmt.Fprintln(stderr, "Usage: secureyeoman role revoke <key-id>")
			return 2
		}
		c := g.client(stdout, stderr)
		return c.call(http.MethodDelete, "/api/v1/auth/api-keys/"+g.fs.Arg(0), nil, nil)

	case "assignments":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var keys []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Prefix string `json:"prefix"`
			Role   string `json:"role"`
		}
		if code := c.call(http.MethodGet, "/api/v1/auth/api-keys", nil, &keys); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "%-28s %-20s %-10s %s\n", "ID", "NAME", "PREFIX", "ROLE")
			for _, k := range keys {
				fmt.Fprintf(stdout, "%-28s %-20s %-10s %s\n", k.ID, k.Name, k.Prefix, k.Role)
			}
		}
		return 0
	}
	fmt.Fprintf(stderr, "Unknown role subcommand: %s\n", sub)
	return 2
}

func runExecute(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: secureyeoman execute <run|sessions|history|approve|reject> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]
	g := newFlagSet("execute "+sub, stderr)

	switch sub {
	case "run":
		taskType := g.fs.String("type", "query", "task type")
		name := g.fs.String("name", "", "task name")
		input := g.fs.String("input", "", "task input")
		wait := g.fs.Bool("wait", true, "poll until the task finishes")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if *name == "" {
			fmt.Fprintln(stderr, "Error: --name is required")
			return 1
		}
		c := g.client(stdout, stderr)
		var submitted struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		body := map[string]string{"type": *taskType, "name": *name, "input": *input}
		if code := c.call(http.MethodPost, "/api/v1/tasks", body, &submitted); code != 0 {
			return code
		}
		if !*wait {
			if !c.json {
				fmt.Fprintf(stdout, "Submitted %s\n", submitted.ID)
			}
			return 0
		}
		return pollTask(c, submitted.ID, stdout)

	case "sessions":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		return listTasks(g.client(stdout, stderr), "?status=running", stdout)

	case "history":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		return listTasks(g.client(stdout, stderr), "", stdout)

	case "approve", "reject":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if g.fs.NArg() == 0 {
			fmt.Fprintf(stderr, "Usage: secureyeoman execute %s <skill-id>\n", sub)
			return 2
		}
		c := g.client(stdout, stderr)
		path := "/api/v1/soul/skills/" + g.fs.Arg(0) + "/" + sub
		var sk struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		}
		if code := c.call(http.MethodPost, path, nil, &sk); code != 0 {
			return code
		}
		if !c.json {
			fmt.Fprintf(stdout, "Skill %s is now %s\n", sk.Name, sk.Status)
		}
		return 0
	}
	fmt.Fprintf(stderr, "Unknown execute subcommand: %s\n", sub)
	return 2
}

func pollTask(c *apiClient, id string, stdout io.Writer) int {
	for {
		var detail struct {
			Task struct {
				Status string `json:"status"`
				Result string `json:"result"`
				Error  string `json:"error"`
			} `json:"task"`
		}
		if code := c.call(http.MethodGet, "/api/v1/tasks/"+id, nil, &detail); code != 0 {
			return code
		}
		switch detail.Task.Status {
		case "completed":
			if !c.json {
				fmt.Fprintln(stdout, detail.Task.Result)
			}
			return 0
		case "failed", "cancelled":
			fmt.Fprintf(c.stderr, "Task %s: %s\n", detail.Task.Status, detail.Task.Error)
			return 1
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func listTasks(c *apiClient, query string, stdout io.Writer) int {
	var tasks []struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if code := c.call(http.MethodGet, "/api/v1/tasks"+query, nil, &tasks); code != 0 {
		return code
	}
	if !c.json {
		fmt.Fprintf(stdout, "%-28s %-10s %-12s %s\n", "ID", "TYPE", "STATUS", "NAME")
		for _, t := range tasks {
			fmt.Fprintf(stdout, "%-28s %-10s %-12s %s\n", t.ID, t.Type, t.Status, t.Name)
		}
	}
	return 0
}
