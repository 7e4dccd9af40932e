package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satsync/internal/domain"
	"satsync/internal/platform/logger"
	"satsync/internal/store"
)

type cfdiFixture struct {
	namespace string
	version   string
	uuid      string
	kind      string
	usoCFDI   string
	total     string
	sello     string
}

func defaultFixture() cfdiFixture {
	return cfdiFixture{
		namespace: namespace40,
		version:   "4.0",
		uuid:      uuid.NewString(),
		kind:      "I",
		usoCFDI:   "G03",
		total:     "1160.00",
		sello:     "c2VsbG8=",
	}
}

func (f cfdiFixture) render() []byte {
	timbre := ""
	if f.sello != "" {
		timbre = fmt.Sprintf(`<cfdi:Complemento>`+
			`<tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" `+
			`Version="1.1" UUID="%s" FechaTimbrado="2024-03-15T10:30:00" `+
			`RfcProvCertif="SAT970701NN3" SelloCFD="%s" SelloSAT="%s" NoCertificadoSAT="00001000000504465028"/>`+
			`</cfdi:Complemento>`, f.uuid, f.sello, f.sello)
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="%s" Version="%s" Fecha="2024-03-15T10:29:00"
 TipoDeComprobante="%s" Moneda="MXN" SubTotal="1000.00" Total="%s">
 <cfdi:Emisor Rfc="AAA010101AAA" Nombre="Proveedor SA de CV"/>
 <cfdi:Receptor Rfc="XAXX010101000" Nombre="Persona Fisica" UsoCFDI="%s"
  DomicilioFiscalReceptor="06700" RegimenFiscalReceptor="616"/>
 <cfdi:Impuestos TotalImpuestosTrasladados="210.00" TotalImpuestosRetenidos="110.67">
  <cfdi:Traslados>
   <cfdi:Traslado Impuesto="002" Importe="160.00"/>
   <cfdi:Traslado Impuesto="003" Importe="50.00"/>
  </cfdi:Traslados>
  <cfdi:Retenciones>
   <cfdi:Retencion Impuesto="001" Importe="100.00"/>
   <cfdi:Retencion Impuesto="002" Importe="10.67"/>
  </cfdi:Retenciones>
 </cfdi:Impuestos>
 %s
</cfdi:Comprobante>`, f.namespace, f.version, f.kind, f.total, f.usoCFDI, timbre))
}

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseDocument(t *testing.T) {
	account := domain.AccountID(uuid.New())

	t.Run("parses a 4.0 income document", func(t *testing.T) {
		f := defaultFixture()
		doc, err := ParseDocument(account, f.render())
		require.NoError(t, err)

		assert.Equal(t, f.uuid, doc.UUID)
		assert.Equal(t, domain.Schema40, doc.SchemaVersion)
		assert.Equal(t, domain.KindIncome, doc.Kind)
		assert.Equal(t, "AAA010101AAA", doc.IssuerRFC)
		assert.Equal(t, "XAXX010101000", doc.ReceiverRFC)
		assert.Equal(t, "MXN", doc.Currency)
		assert.Equal(t, "1160.00", doc.Total)
		assert.Equal(t, "160.00", doc.TaxTransferred, "IVA only, not the aggregate with IEPS")
		assert.Equal(t, "100.00", doc.TaxWithheld, "ISR only")
		assert.Equal(t, "06700", doc.ReceiverDomicile)
		assert.Equal(t, "616", doc.ReceiverRegime)
		assert.Equal(t, "SAT970701NN3", doc.Seal.ProviderRFC)
		assert.False(t, doc.Deductible)
		assert.Equal(t, f.render(), doc.RawPayload)
	})

	t.Run("parses a 3.3 document", func(t *testing.T) {
		f := defaultFixture()
		f.namespace = namespace33
		f.version = "3.3"
		doc, err := ParseDocument(account, f.render())
		require.NoError(t, err)
		assert.Equal(t, domain.Schema33, doc.SchemaVersion)
		// The receiver domicile and regime attributes belong to the 4.0
		// schema; the 3.3 variant never picks them up.
		assert.Empty(t, doc.ReceiverDomicile)
		assert.Empty(t, doc.ReceiverRegime)
	})

	t.Run("falls back to declared totals without a tax breakdown", func(t *testing.T) {
		f := defaultFixture()
		raw := f.render()
		start := bytes.Index(raw, []byte("<cfdi:Impuestos"))
		end := bytes.Index(raw, []byte("</cfdi:Impuestos>")) + len("</cfdi:Impuestos>")
		raw = bytes.Replace(raw, raw[start:end],
			[]byte(`<cfdi:Impuestos TotalImpuestosTrasladados="210.00"/>`), 1)

		doc, err := ParseDocument(account, raw)
		require.NoError(t, err)
		assert.Equal(t, "210.00", doc.TaxTransferred)
		assert.Equal(t, "0", doc.TaxWithheld)
	})

	t.Run("D-series usage marks the document deductible", func(t *testing.T) {
		f := defaultFixture()
		f.usoCFDI = "D01"
		doc, err := ParseDocument(account, f.render())
		require.NoError(t, err)
		assert.True(t, doc.Deductible)
		assert.Equal(t, "D01", doc.UsageCode)
	})

	rejections := []struct {
		name   string
		mutate func(f *cfdiFixture) []byte
		reason string
	}{
		{
			name:   "garbage is malformed xml",
			mutate: func(f *cfdiFixture) []byte { return []byte("not xml at all") },
			reason: ReasonMalformedXML,
		},
		{
			name: "unknown namespace is unsupported schema",
			mutate: func(f *cfdiFixture) []byte {
				f.namespace = "http://www.sat.gob.mx/cfd/2"
				return f.render()
			},
			reason: ReasonUnsupportedSchema,
		},
		{
			name: "no stamp is missing seal",
			mutate: func(f *cfdiFixture) []byte {
				f.sello = ""
				return f.render()
			},
			reason: ReasonMissingSeal,
		},
		{
			name: "stamp without UUID is missing uuid",
			mutate: func(f *cfdiFixture) []byte {
				f.uuid = ""
				return f.render()
			},
			reason: ReasonMissingUUID,
		},
		{
			name: "stamp without seals is malformed seal",
			mutate: func(f *cfdiFixture) []byte {
				return bytes.ReplaceAll(f.render(), []byte(`SelloCFD="c2VsbG8="`), []byte(`SelloCFD=""`))
			},
			reason: ReasonMalformedSeal,
		},
		{
			name: "unknown comprobante type is malformed xml",
			mutate: func(f *cfdiFixture) []byte {
				f.kind = "Z"
				return f.render()
			},
			reason: ReasonMalformedXML,
		},
	}

	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			f := defaultFixture()
			_, err := ParseDocument(account, tc.mutate(&f))
			require.Error(t, err)
			var re *RejectError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tc.reason, re.Reason)
		})
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	account := domain.AccountID(uuid.New())

	t.Run("stores good entries and isolates the bad one", func(t *testing.T) {
		good1, good2, bad := defaultFixture(), defaultFixture(), defaultFixture()
		bad.sello = ""
		archive := buildArchive(t, map[string][]byte{
			"a.xml": good1.render(),
			"b.xml": good2.render(),
			"c.xml": bad.render(),
		})

		docs := store.NewMemoryDocumentStore()
		p := New(docs, logger.Discard())

		result, err := p.Process(ctx, account, archive)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Stored)
		assert.Equal(t, 0, result.Duplicates)
		assert.Equal(t, map[string]int{ReasonMissingSeal: 1}, result.Rejected)
	})

	t.Run("replaying an archive yields only duplicates", func(t *testing.T) {
		f := defaultFixture()
		archive := buildArchive(t, map[string][]byte{"a.xml": f.render()})

		docs := store.NewMemoryDocumentStore()
		p := New(docs, logger.Discard())

		first, err := p.Process(ctx, account, archive)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Stored)

		second, err := p.Process(ctx, account, archive)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Stored)
		assert.Equal(t, 1, second.Duplicates)
	})

	t.Run("ignores non-xml entries", func(t *testing.T) {
		f := defaultFixture()
		archive := buildArchive(t, map[string][]byte{
			"a.xml":        f.render(),
			"manifest.txt": []byte("ignore me"),
		})

		docs := store.NewMemoryDocumentStore()
		result, err := New(docs, logger.Discard()).Process(ctx, account, archive)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Stored)
		assert.Empty(t, result.Rejected)
	})

	t.Run("unreadable archive is an error", func(t *testing.T) {
		docs := store.NewMemoryDocumentStore()
		_, err := New(docs, logger.Discard()).Process(ctx, account, []byte("not a zip"))
		require.Error(t, err)
	})
}
