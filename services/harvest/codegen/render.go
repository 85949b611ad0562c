// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/session"
)

const scriptHeader = `// Generated client for the recorded workflow.
// Entry point: main(). Fill MainParams with fresh values before running.

`

type sub struct {
	value string
	expr  string
}

// substituteTemplate renders raw as a template-literal body, replacing
// each occurrence of a substitution value with its expression. Longer
// values win when occurrences overlap.
func substituteTemplate(raw string, subs []sub) string {
	ordered := make([]sub, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i].value) > len(ordered[j].value) })

	var sb strings.Builder
	for len(raw) > 0 {
		best, bestIdx := -1, len(raw)
		for i, s := range ordered {
			if s.value == "" {
				continue
			}
			if idx := strings.Index(raw, s.value); idx >= 0 && idx < bestIdx {
				best, bestIdx = i, idx
			}
		}
		if best < 0 {
			sb.WriteString(templateEscape(raw))
			break
		}
		sb.WriteString(templateEscape(raw[:bestIdx]))
		sb.WriteString("${" + ordered[best].expr + "}")
		raw = raw[bestIdx+len(ordered[best].value):]
	}
	return sb.String()
}

func (g *Generator) render(sess *session.Session, plans []*nodePlan, entryParams []param, valueExpr map[string]string) (string, error) {
	var master *nodePlan
	for _, plan := range plans {
		if plan.node.Kind == dag.KindMaster {
			master = plan
		}
	}
	if master == nil {
		return "", datatypes.NewError(datatypes.CodeInternal,
			"no master node in the active workflow group").WithSession(sess.ID)
	}

	var sb strings.Builder
	sb.WriteString(scriptHeader)

	for _, plan := range plans {
		if plan.reqType != "" {
			sb.WriteString(renderTypeDecl(plan.reqType, plan.node.Request.BodyJSON))
			sb.WriteString("\n")
		}
		if plan.respType != "" {
			sb.WriteString(renderTypeDecl(plan.respType, plan.node.Request.Response.JSON))
			sb.WriteString("\n")
		}
	}

	for _, plan := range plans {
		g.renderFunc(&sb, plan)
	}

	g.renderEntry(&sb, plans, entryParams, valueExpr, master)
	return sb.String(), nil
}

func (g *Generator) renderFunc(sb *strings.Builder, plan *nodePlan) {
	node := plan.node
	req := node.Request

	subs := make([]sub, 0, len(plan.params))
	var sigParts []string
	for _, p := range plan.params {
		subs = append(subs, sub{value: p.value, expr: p.tsName})
		sigParts = append(sigParts, p.tsName+": string")
	}

	bodyTS := "string"
	if plan.respType != "" {
		bodyTS = plan.respType
	}
	retParts := []string{"body: " + bodyTS}
	for _, c := range plan.captures {
		retParts = append(retParts, c.tsName+": string")
	}

	fmt.Fprintf(sb, "async function %s(%s): Promise<{ %s }> {\n",
		plan.funcName, strings.Join(sigParts, ", "), strings.Join(retParts, "; "))
	fmt.Fprintf(sb, "  const url = `%s`;\n", substituteTemplate(req.URL, subs))
	sb.WriteString("  const res = await fetch(url, {\n")
	fmt.Fprintf(sb, "    method: %s,\n", quoteString(req.Method))

	headerNames := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(name, ":") || lower == "content-length" || lower == "host" {
			continue
		}
		headerNames = append(headerNames, name)
	}
	sort.Strings(headerNames)
	if len(headerNames) > 0 {
		sb.WriteString("    headers: {\n")
		for _, name := range headerNames {
			fmt.Fprintf(sb, "      %s: `%s`,\n", quoteString(name), substituteTemplate(req.Headers[name], subs))
		}
		sb.WriteString("    },\n")
	}
	if req.Body != "" {
		fmt.Fprintf(sb, "    body: `%s`,\n", substituteTemplate(req.Body, subs))
	}
	sb.WriteString("  });\n")
	fmt.Fprintf(sb, "  if (!res.ok) {\n    throw new Error(`%s %s failed with status ${res.status}`);\n  }\n",
		req.Method, templateEscape(displayPath(req.URL)))

	if plan.respType != "" {
		fmt.Fprintf(sb, "  const body = (await res.json()) as %s;\n", plan.respType)
	} else {
		sb.WriteString("  const body = await res.text();\n")
	}
	for _, c := range plan.captures {
		for _, line := range c.lines {
			sb.WriteString("  " + line + "\n")
		}
	}

	ret := []string{"body"}
	for _, c := range plan.captures {
		ret = append(ret, c.tsName)
	}
	fmt.Fprintf(sb, "  return { %s };\n}\n\n", strings.Join(ret, ", "))
}

func (g *Generator) renderEntry(sb *strings.Builder, plans []*nodePlan, entryParams []param, valueExpr map[string]string, master *nodePlan) {
	mainRet := "string"
	if master.respType != "" {
		mainRet = master.respType
	}

	sig := ""
	if len(entryParams) > 0 {
		sb.WriteString("export interface MainParams {\n")
		for _, p := range entryParams {
			if p.doc != "" {
				fmt.Fprintf(sb, "  /** %s */\n", p.doc)
			}
			fmt.Fprintf(sb, "  %s: string;\n", p.tsName)
		}
		sb.WriteString("}\n\n")
		sig = "params: MainParams"
	}

	fmt.Fprintf(sb, "export async function main(%s): Promise<%s> {\n", sig, mainRet)
	for _, plan := range plans {
		args := make([]string, 0, len(plan.params))
		for _, p := range plan.params {
			args = append(args, valueExpr[p.value])
		}
		fmt.Fprintf(sb, "  const %s = await %s(%s);\n", plan.stepVar, plan.funcName, strings.Join(args, ", "))
	}
	fmt.Fprintf(sb, "  return %s.body;\n}\n", master.stepVar)
}

// displayPath reduces a URL to its path for error messages.
func displayPath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return u.Path
	}
	return rawURL
}
