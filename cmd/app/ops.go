package main

import (
	"context"
	"net/http"
	"net/url"
)

func doLogin(ctx context.Context, cfg cliConfig, payload map[string]any, out any) error {
	client := newAPIClient(cfg.Server, "")
	return client.request(ctx, http.MethodPost, "/api/auth/login", payload, out)
}

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/auth/whoami", nil, out)
}

func doRecordUpload(ctx context.Context, cfg cliConfig, filePath string, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.uploadFile(ctx, "/api/records", filePath, out)
}

func doRecordsList(ctx context.Context, cfg cliConfig, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/records", nil, out)
}

func doRecordGet(ctx context.Context, cfg cliConfig, recordID string, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/records/"+url.PathEscape(recordID), nil, out)
}

func doRecordDownload(ctx context.Context, cfg cliConfig, recordID, outPath string) (int64, error) {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.download(ctx, "/api/records/"+url.PathEscape(recordID)+"/content", outPath)
}

func doAccessRequest(ctx context.Context, cfg cliConfig, recordID, patientWallet string, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/access/requests", map[string]any{
		"record_id":      recordID,
		"patient_wallet": patientWallet,
	}, out)
}

func doAccessRespond(ctx context.Context, cfg cliConfig, requestID, decision string, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	path := "/api/access/requests/" + url.PathEscape(requestID) + "/respond"
	return client.request(ctx, http.MethodPost, path, map[string]any{"decision": decision}, out)
}

// doAccessSimple drives the body-less request transitions, revoke and reopen.
func doAccessSimple(ctx context.Context, cfg cliConfig, requestID, action string, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	path := "/api/access/requests/" + url.PathEscape(requestID) + "/" + action
	return client.request(ctx, http.MethodPost, path, nil, out)
}

func doAccessList(ctx context.Context, cfg cliConfig, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/access/requests", nil, out)
}

func doLedgerPointer(ctx context.Context, cfg cliConfig, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/ledger/pointer", nil, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, out any) error {
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/audit", nil, out)
}
