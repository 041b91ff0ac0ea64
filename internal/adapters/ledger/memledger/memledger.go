// Package memledger implements the ledger port in process. It backs dev
// mode (running without a chain) and the test suites.
package memledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/medicrypt/medicrypt/internal/domain"
)

type call struct {
	Method        string
	PatientWallet string
	DoctorWallet  string
	CID           string
}

type Ledger struct {
	mu       sync.Mutex
	pointers map[string]string
	calls    []call
	nextErr  error
	txSeq    uint64
}

func New() *Ledger {
	return &Ledger{pointers: make(map[string]string)}
}

// FailNext makes the next mutating call return err instead of a tx hash.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextErr = err
}

func (l *Ledger) UpdatePointer(ctx context.Context, ownerWallet, cid string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeErr(); err != nil {
		return "", err
	}
	l.pointers[strings.ToLower(ownerWallet)] = cid
	l.calls = append(l.calls, call{Method: "updateRecord", PatientWallet: ownerWallet, CID: cid})
	return l.nextTxHash(), nil
}

func (l *Ledger) RequestAccess(ctx context.Context, patientWallet, doctorWallet string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeErr(); err != nil {
		return "", err
	}
	l.calls = append(l.calls, call{Method: "requestAccess", PatientWallet: patientWallet, DoctorWallet: doctorWallet})
	return l.nextTxHash(), nil
}

func (l *Ledger) GrantAccess(ctx context.Context, patientWallet, doctorWallet string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeErr(); err != nil {
		return "", err
	}
	l.calls = append(l.calls, call{Method: "grantAccess", PatientWallet: patientWallet, DoctorWallet: doctorWallet})
	return l.nextTxHash(), nil
}

func (l *Ledger) LatestPointer(ctx context.Context, wallet string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pointers[strings.ToLower(wallet)], nil
}

// GrantCount reports how many grantAccess calls reached the ledger.
func (l *Ledger) GrantCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Method == "grantAccess" {
			n++
		}
	}
	return n
}

func (l *Ledger) takeErr() error {
	err := l.nextErr
	l.nextErr = nil
	return err
}

func (l *Ledger) nextTxHash() string {
	l.txSeq++
	return fmt.Sprintf("0x%064x", l.txSeq)
}

var _ domain.Ledger = (*Ledger)(nil)
