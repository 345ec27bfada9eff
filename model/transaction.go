package model

// Transaction is the opaque serialised transaction payload produced by the
// plugin-supplied transaction-type registry (spec.md §1: plugin loading is
// injected, its internals are out of scope for this core).
type Transaction struct {
	Bytes []byte
}

// TransactionInfo pairs a transaction with its hash, the unit the UT/PT
// subscribers operate on (spec.md §4.5).
type TransactionInfo struct {
	Hash        Hash256
	Transaction Transaction
}

// Cosignature is one signer's cosignature of a partial (aggregate bonded)
// transaction (spec.md §4.5, PT change family).
type Cosignature struct {
	SignerPublicKey PublicKey
	Signature       Signature
}

// TransactionStatus is the outcome of validating/executing a transaction,
// reported via the transaction-status subscriber (spec.md §6.1).
type TransactionStatus struct {
	Hash        Hash256
	StatusCode  uint32
	Transaction Transaction
}
