package extract

// A TagSet enumerates the module event tags the extractor recognizes. The tag
// set is part of the ledger's module definitions, not of this processor, so
// it is supplied by configuration; the defaults match the framework multisig
// account module.
type TagSet struct {
	// WalletResource is the write-set resource type holding the full multisig
	// account state (owners, threshold, metadata).
	WalletResource string

	TransactionProposed string
	VoteCast            string
	ExecutionRejected   string
	ExecutionSucceeded  string
	ExecutionFailed     string
	OwnersAdded         string
	OwnersRemoved       string
	ContactUpserted     string
	AssetSpamFlagged    string
}

func DefaultTagSet() TagSet {
	return TagSet{
		WalletResource:      "0x1::multisig_account::MultisigAccount",
		TransactionProposed: "0x1::multisig_account::CreateTransactionEvent",
		VoteCast:            "0x1::multisig_account::VoteEvent",
		ExecutionRejected:   "0x1::multisig_account::ExecuteRejectedTransactionEvent",
		ExecutionSucceeded:  "0x1::multisig_account::TransactionExecutionSucceededEvent",
		ExecutionFailed:     "0x1::multisig_account::TransactionExecutionFailedEvent",
		OwnersAdded:         "0x1::multisig_account::AddOwnersEvent",
		OwnersRemoved:       "0x1::multisig_account::RemoveOwnersEvent",
		ContactUpserted:     "0x1::wallet_registry::ContactUpsertedEvent",
		AssetSpamFlagged:    "0x1::wallet_registry::AssetSpamFlaggedEvent",
	}
}
