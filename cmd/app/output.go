package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Views mirror the HTTP API's JSON shapes.

type userView struct {
	ID     string `json:"id"`
	Wallet string `json:"wallet"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type recordView struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	CID       string    `json:"cid"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

type requestView struct {
	ID          string    `json:"id"`
	RecordID    string    `json:"record_id"`
	RequesterID string    `json:"requester_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ledgerView struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

type requestOutcomeView struct {
	Request requestView `json:"request"`
	Ledger  ledgerView  `json:"ledger"`
}

type uploadView struct {
	Record recordView `json:"record"`
	Key    string     `json:"key"`
	Ledger ledgerView `json:"ledger"`
}

type pointerView struct {
	Wallet string `json:"wallet"`
	CID    string `json:"cid"`
}

// auditView matches the server's untagged AuditLog serialization.
type auditView struct {
	ID          string
	ActorUserID string
	Action      string
	TargetType  string
	TargetID    string
	Metadata    string
	CreatedAt   time.Time
}

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatLedger(l ledgerView) string {
	if l.Error != "" {
		return "FAILED: " + l.Error
	}
	if l.TxHash == "" {
		return "-"
	}
	return l.TxHash
}

func printRecords(items []recordView) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.ID, item.FileName, item.CID, formatTime(item.CreatedAt)})
	}
	printTable([]string{"ID", "FILE", "CID", "CREATED_AT"}, rows)
}

func printRequests(items []requestView) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.ID, item.RecordID, item.RequesterID, item.Status, formatTime(item.UpdatedAt)})
	}
	printTable([]string{"ID", "RECORD", "REQUESTER", "STATUS", "UPDATED_AT"}, rows)
}

func printRequestOutcome(item requestOutcomeView) {
	printKV([][2]string{
		{"id", item.Request.ID},
		{"record", item.Request.RecordID},
		{"status", item.Request.Status},
		{"ledger", formatLedger(item.Ledger)},
	})
}

func printUploadResult(item uploadView) {
	printKV([][2]string{
		{"id", item.Record.ID},
		{"file", item.Record.FileName},
		{"cid", item.Record.CID},
		{"ledger", formatLedger(item.Ledger)},
		{"key", item.Key},
	})
	fmt.Println("store the key now; the server does not keep a copy")
}

func printAuditLogs(items []auditView) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.ID, item.Action, item.TargetType, item.TargetID, formatTime(item.CreatedAt)})
	}
	printTable([]string{"ID", "ACTION", "TARGET_TYPE", "TARGET_ID", "AT"}, rows)
}
