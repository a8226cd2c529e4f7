package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/pagination"
)

// Output format constants.
const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputWide = "wide"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printYAML(v any) {
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal YAML: %v\n", err)
		return
	}
	fmt.Print(string(data))
}

// printStructured prints v when a structured format was asked for and reports
// whether it did.
func printStructured(v any) bool {
	switch flagOutput {
	case outputJSON:
		printJSON(v)
		return true
	case outputYAML:
		printYAML(v)
		return true
	}
	return false
}

type tableWriter struct {
	w       *tabwriter.Writer
	headers []string
}

func newTable(headers ...string) *tableWriter {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	t := &tableWriter{w: w, headers: headers}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	return t
}

func (t *tableWriter) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *tableWriter) Flush() {
	t.w.Flush()
}

func printPagination(total int64, page, perPage, totalPages int) {
	if total == 0 {
		fmt.Println("No resources found.")
		return
	}
	start := (page-1)*perPage + 1
	end := page * perPage
	if int64(end) > total {
		end = int(total)
	}
	fmt.Printf("\nShowing %d-%d of %d results (page %d/%d)\n", start, end, total, page, totalPages)
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Views

type membershipView struct {
	ID           string `json:"id" yaml:"id"`
	UserID       string `json:"user_id" yaml:"user_id"`
	GroupID      string `json:"group_id" yaml:"group_id"`
	Kind         string `json:"kind" yaml:"kind"`
	State        string `json:"state" yaml:"state"`
	Role         string `json:"role,omitempty" yaml:"role,omitempty"`
	Banned       bool   `json:"banned" yaml:"banned"`
	InviterID    string `json:"inviter_id,omitempty" yaml:"inviter_id,omitempty"`
	Comments     string `json:"comments,omitempty" yaml:"comments,omitempty"`
	DateModified string `json:"date_modified" yaml:"date_modified"`
}

func toMembershipView(m *membership.Membership) membershipView {
	v := membershipView{
		ID:           m.ID().String(),
		UserID:       m.UserID().String(),
		GroupID:      m.GroupID().String(),
		Kind:         m.Kind().String(),
		State:        string(m.State()),
		Role:         m.Role().String(),
		Banned:       m.IsBanned(),
		Comments:     m.Comments(),
		DateModified: m.DateModified().UTC().Format(time.RFC3339),
	}
	if !m.InviterID().IsZero() {
		v.InviterID = m.InviterID().String()
	}
	return v
}

type groupView struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Slug         string `json:"slug" yaml:"slug"`
	Status       string `json:"status" yaml:"status"`
	InviteStatus string `json:"invite_status" yaml:"invite_status"`
	CreatorID    string `json:"creator_id" yaml:"creator_id"`
	CreatedAt    string `json:"created_at" yaml:"created_at"`
	UpdatedAt    string `json:"updated_at" yaml:"updated_at"`
}

func toGroupView(g *group.Group) groupView {
	return groupView{
		ID:           g.ID().String(),
		Name:         g.Name(),
		Slug:         g.Slug(),
		Status:       string(g.Status()),
		InviteStatus: string(g.Settings().InviteStatus),
		CreatorID:    g.CreatorID().String(),
		CreatedAt:    g.CreatedAt().UTC().Format(time.RFC3339),
		UpdatedAt:    g.UpdatedAt().UTC().Format(time.RFC3339),
	}
}

type transitionView struct {
	Op      string `json:"op" yaml:"op"`
	UserID  string `json:"user_id" yaml:"user_id"`
	GroupID string `json:"group_id" yaml:"group_id"`
	From    string `json:"from" yaml:"from"`
	To      string `json:"to" yaml:"to"`
	Changed bool   `json:"changed" yaml:"changed"`
}

func printTransition(t *app.Transition) {
	v := transitionView{
		Op:      string(t.Op),
		UserID:  t.UserID.String(),
		GroupID: t.GroupID.String(),
		From:    string(t.From),
		To:      string(t.To),
		Changed: t.Changed,
	}
	if printStructured(v) {
		return
	}
	if !t.Changed {
		fmt.Printf("%s: nothing to do (%s)\n", v.Op, v.To)
		return
	}
	fmt.Printf("%s: %s -> %s\n", v.Op, v.From, v.To)
}

func printCount(op string, n int) {
	if printStructured(map[string]any{"op": op, "count": n}) {
		return
	}
	fmt.Printf("%s: %d affected\n", op, n)
}

func printMembershipPage(page app.MembershipPage) {
	if printStructured(pagination.Map(page, toMembershipView)) {
		return
	}
	printMemberships(page.Data)
	printPagination(page.Total, page.Page, page.PerPage, page.TotalPages)
}

func printMemberships(rows []*membership.Membership) {
	if flagOutput == outputWide {
		t := newTable("ID", "USER", "GROUP", "KIND", "STATE", "ROLE", "BANNED", "INVITER", "MODIFIED", "COMMENTS")
		for _, m := range rows {
			v := toMembershipView(m)
			t.AddRow(v.ID, v.UserID, v.GroupID, v.Kind, v.State, orDash(v.Role), boolToStr(v.Banned),
				orDash(v.InviterID), v.DateModified, orDash(truncate(v.Comments, 40)))
		}
		t.Flush()
		return
	}
	t := newTable("USER", "GROUP", "STATE", "ROLE", "MODIFIED")
	for _, m := range rows {
		v := toMembershipView(m)
		t.AddRow(v.UserID, v.GroupID, v.State, orDash(v.Role), v.DateModified)
	}
	t.Flush()
}

func printGroup(g *group.Group) {
	v := toGroupView(g)
	if printStructured(v) {
		return
	}
	fmt.Printf("ID:            %s\n", v.ID)
	fmt.Printf("Name:          %s\n", v.Name)
	fmt.Printf("Slug:          %s\n", v.Slug)
	fmt.Printf("Status:        %s\n", v.Status)
	fmt.Printf("Invite status: %s\n", v.InviteStatus)
	fmt.Printf("Creator:       %s\n", v.CreatorID)
	fmt.Printf("Created:       %s\n", v.CreatedAt)
	fmt.Printf("Updated:       %s\n", v.UpdatedAt)
}
