package ledger

import (
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// Entry is one leg of a recorded transfer
type Entry = models.LedgerEntry

// Account is a materialized balance row
type Account = models.LedgerAccount
