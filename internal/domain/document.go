package domain

import "time"

// SchemaVersion enumerates the supported structured-document formats. Version
// dispatch is explicit: a document either declares one of these namespaces or
// it is rejected, never parsed by guesswork.
type SchemaVersion string

const (
	Schema33 SchemaVersion = "3.3"
	Schema40 SchemaVersion = "4.0"
)

// DocumentKind mirrors the comprobante type attribute: income, expense,
// payroll, payment.
type DocumentKind string

const (
	KindIncome  DocumentKind = "I"
	KindExpense DocumentKind = "E"
	KindPayroll DocumentKind = "N"
	KindPayment DocumentKind = "P"
)

// DigitalSeal is the embedded stamp attesting to the issuer. Only structural
// well-formedness is verified here; full chain validation against the issuing
// authority is a separate concern.
type DigitalSeal struct {
	UUID           string
	StampedAt      time.Time
	ProviderRFC    string
	SealCFD        string
	SealSAT        string
	CertificateSAT string
	Version        string
}

// FiscalDocument is one parsed fiscal document. (AccountID, UUID) is globally
// unique; documents are immutable after first insert except for the Cancelled
// flag, which a later synchronization may set.
type FiscalDocument struct {
	UUID         string
	AccountID    AccountID
	IssuerRFC    string
	IssuerName   string
	ReceiverRFC  string
	ReceiverName string
	// ReceiverDomicile and ReceiverRegime are declared by the 4.0 schema
	// only; 3.3 documents leave them empty.
	ReceiverDomicile string
	ReceiverRegime   string
	Kind             DocumentKind
	SchemaVersion    SchemaVersion
	IssueDate        time.Time
	Currency         string
	Subtotal         string
	Discount         string
	Total            string
	TaxTransferred   string
	TaxWithheld      string
	UsageCode        string
	Deductible       bool
	Cancelled        bool
	Seal             DigitalSeal
	RawPayload       []byte
}

// deductibleUsageCodes are the receiver usage codes that mark a document as a
// candidate personal deduction (medical, funeral, mortgage interest, tuition,
// and the rest of the D-series).
var deductibleUsageCodes = map[string]bool{
	"D01": true, "D02": true, "D03": true, "D04": true, "D05": true,
	"D06": true, "D07": true, "D08": true, "D09": true, "D10": true,
}

// DeductibleUsage reports whether a receiver usage code is in the deductible
// D-series.
func DeductibleUsage(code string) bool { return deductibleUsageCodes[code] }
