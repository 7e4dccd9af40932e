package processor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math/big"
	"time"

	"satsync/internal/domain"
)

// Namespaces a structured document may declare. Anything else is rejected,
// never parsed by guesswork.
const (
	namespace33 = "http://www.sat.gob.mx/cfd/3"
	namespace40 = "http://www.sat.gob.mx/cfd/4"
)

// Rejection reasons. Machine-readable; also used as the metrics label.
const (
	ReasonMalformedXML      = "malformed_xml"
	ReasonUnsupportedSchema = "unsupported_schema"
	ReasonMissingSeal       = "missing_seal"
	ReasonMalformedSeal     = "malformed_seal"
	ReasonMissingUUID       = "missing_uuid"
)

// RejectError explains why one archive entry could not become a document.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func reject(reason, detail string) error {
	return &RejectError{Reason: reason, Detail: detail}
}

// Tax codes inside Traslado/Retencion nodes.
const (
	taxCodeISR = "001"
	taxCodeIVA = "002"
)

// comprobanteCore maps the attributes both schema versions share. Child
// elements are matched by local name; the namespace decision happens on the
// root element.
type comprobanteCore struct {
	Version           string `xml:"Version,attr"`
	Fecha             string `xml:"Fecha,attr"`
	TipoDeComprobante string `xml:"TipoDeComprobante,attr"`
	Moneda            string `xml:"Moneda,attr"`
	SubTotal          string `xml:"SubTotal,attr"`
	Descuento         string `xml:"Descuento,attr"`
	Total             string `xml:"Total,attr"`

	Emisor struct {
		RFC    string `xml:"Rfc,attr"`
		Nombre string `xml:"Nombre,attr"`
	} `xml:"Emisor"`

	Impuestos struct {
		TotalTrasladados string     `xml:"TotalImpuestosTrasladados,attr"`
		TotalRetenidos   string     `xml:"TotalImpuestosRetenidos,attr"`
		Traslados        []taxEntry `xml:"Traslados>Traslado"`
		Retenciones      []taxEntry `xml:"Retenciones>Retencion"`
	} `xml:"Impuestos"`

	Complemento struct {
		Timbre *timbreFiscal `xml:"TimbreFiscalDigital"`
	} `xml:"Complemento"`
}

type taxEntry struct {
	Impuesto string `xml:"Impuesto,attr"`
	Importe  string `xml:"Importe,attr"`
}

// The two schema variants carry different receiver fields: 4.0 added the
// receiver's fiscal domicile and regime. Each variant gets its own struct so
// a field can never leak across versions.
type comprobante33 struct {
	comprobanteCore
	Receptor struct {
		RFC     string `xml:"Rfc,attr"`
		Nombre  string `xml:"Nombre,attr"`
		UsoCFDI string `xml:"UsoCFDI,attr"`
	} `xml:"Receptor"`
}

type comprobante40 struct {
	comprobanteCore
	Receptor struct {
		RFC       string `xml:"Rfc,attr"`
		Nombre    string `xml:"Nombre,attr"`
		UsoCFDI   string `xml:"UsoCFDI,attr"`
		Domicilio string `xml:"DomicilioFiscalReceptor,attr"`
		Regimen   string `xml:"RegimenFiscalReceptor,attr"`
	} `xml:"Receptor"`
}

// receiver is the normalized receiver block handed to buildDocument.
type receiver struct {
	rfc      string
	name     string
	usage    string
	domicile string
	regime   string
}

type timbreFiscal struct {
	Version          string `xml:"Version,attr"`
	UUID             string `xml:"UUID,attr"`
	FechaTimbrado    string `xml:"FechaTimbrado,attr"`
	RfcProvCertif    string `xml:"RfcProvCertif,attr"`
	SelloCFD         string `xml:"SelloCFD,attr"`
	SelloSAT         string `xml:"SelloSAT,attr"`
	NoCertificadoSAT string `xml:"NoCertificadoSAT,attr"`
}

// ParseDocument turns one XML payload into a FiscalDocument. The schema
// variant is picked from the root namespace and parsed with its own struct.
// Failures come back as *RejectError so callers can count rejections by
// reason.
func ParseDocument(accountID domain.AccountID, raw []byte) (*domain.FiscalDocument, error) {
	version, err := schemaVersion(raw)
	if err != nil {
		return nil, err
	}

	switch version {
	case domain.Schema33:
		var doc comprobante33
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return nil, reject(ReasonMalformedXML, err.Error())
		}
		return buildDocument(accountID, raw, version, doc.comprobanteCore, receiver{
			rfc:   doc.Receptor.RFC,
			name:  doc.Receptor.Nombre,
			usage: doc.Receptor.UsoCFDI,
		})
	default:
		var doc comprobante40
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return nil, reject(ReasonMalformedXML, err.Error())
		}
		return buildDocument(accountID, raw, version, doc.comprobanteCore, receiver{
			rfc:      doc.Receptor.RFC,
			name:     doc.Receptor.Nombre,
			usage:    doc.Receptor.UsoCFDI,
			domicile: doc.Receptor.Domicilio,
			regime:   doc.Receptor.Regimen,
		})
	}
}

func buildDocument(accountID domain.AccountID, raw []byte, version domain.SchemaVersion, core comprobanteCore, rcpt receiver) (*domain.FiscalDocument, error) {
	kind := domain.DocumentKind(core.TipoDeComprobante)
	switch kind {
	case domain.KindIncome, domain.KindExpense, domain.KindPayroll, domain.KindPayment:
	default:
		return nil, reject(ReasonMalformedXML,
			fmt.Sprintf("unknown comprobante type %q", core.TipoDeComprobante))
	}

	timbre := core.Complemento.Timbre
	if timbre == nil {
		return nil, reject(ReasonMissingSeal, "no digital stamp complement")
	}
	if timbre.UUID == "" {
		return nil, reject(ReasonMissingUUID, "stamp carries no UUID")
	}
	if timbre.SelloCFD == "" || timbre.SelloSAT == "" || timbre.RfcProvCertif == "" {
		return nil, reject(ReasonMalformedSeal, "stamp is missing seal attributes")
	}
	stampedAt, err := parseTimestamp(timbre.FechaTimbrado)
	if err != nil {
		return nil, reject(ReasonMalformedSeal,
			fmt.Sprintf("unparseable stamp date %q", timbre.FechaTimbrado))
	}

	issueDate, err := parseTimestamp(core.Fecha)
	if err != nil {
		return nil, reject(ReasonMalformedXML, fmt.Sprintf("unparseable issue date %q", core.Fecha))
	}

	currency := core.Moneda
	if currency == "" {
		currency = "MXN"
	}

	return &domain.FiscalDocument{
		UUID:             timbre.UUID,
		AccountID:        accountID,
		IssuerRFC:        core.Emisor.RFC,
		IssuerName:       core.Emisor.Nombre,
		ReceiverRFC:      rcpt.rfc,
		ReceiverName:     rcpt.name,
		ReceiverDomicile: rcpt.domicile,
		ReceiverRegime:   rcpt.regime,
		Kind:             kind,
		SchemaVersion:    version,
		IssueDate:        issueDate,
		Currency:         currency,
		Subtotal:         amountOrZero(core.SubTotal),
		Discount:         amountOrZero(core.Descuento),
		Total:            amountOrZero(core.Total),
		TaxTransferred:   taxByCode(core.Impuestos.Traslados, taxCodeIVA, core.Impuestos.TotalTrasladados),
		TaxWithheld:      taxByCode(core.Impuestos.Retenciones, taxCodeISR, core.Impuestos.TotalRetenidos),
		UsageCode:        rcpt.usage,
		Deductible:       domain.DeductibleUsage(rcpt.usage),
		Seal: domain.DigitalSeal{
			UUID:           timbre.UUID,
			StampedAt:      stampedAt,
			ProviderRFC:    timbre.RfcProvCertif,
			SealCFD:        timbre.SelloCFD,
			SealSAT:        timbre.SelloSAT,
			CertificateSAT: timbre.NoCertificadoSAT,
			Version:        timbre.Version,
		},
		RawPayload: raw,
	}, nil
}

// taxByCode sums the entries carrying one tax code, so IVA transferred and
// ISR withheld are never conflated with other taxes in the same document.
// Documents without a per-tax breakdown fall back to the declared total.
func taxByCode(entries []taxEntry, code, declaredTotal string) string {
	if len(entries) == 0 {
		return amountOrZero(declaredTotal)
	}
	total := new(big.Rat)
	for _, e := range entries {
		if e.Impuesto != code || e.Importe == "" {
			continue
		}
		if amount, ok := new(big.Rat).SetString(e.Importe); ok {
			total.Add(total, amount)
		}
	}
	return total.FloatString(2)
}

// schemaVersion inspects the root element's namespace and decides which schema
// the document declares.
func schemaVersion(raw []byte) (domain.SchemaVersion, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", reject(ReasonMalformedXML, "no root element")
		}
		if err != nil {
			return "", reject(ReasonMalformedXML, err.Error())
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Space {
		case namespace33:
			return domain.Schema33, nil
		case namespace40:
			return domain.Schema40, nil
		default:
			return "", reject(ReasonUnsupportedSchema,
				fmt.Sprintf("root namespace %q", start.Name.Space))
		}
	}
}

// parseTimestamp accepts the issue-date formats seen in the wild: RFC 3339,
// local datetime without offset, and bare date.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func amountOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
