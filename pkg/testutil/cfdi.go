package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// RenderCFDI returns a minimal stamped 4.0 income document with the given
// fiscal UUID.
func RenderCFDI(uuid string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0" Fecha="2024-03-15T10:29:00"
 TipoDeComprobante="I" Moneda="MXN" SubTotal="1000.00" Total="1160.00">
 <cfdi:Emisor Rfc="AAA010101AAA" Nombre="Proveedor SA de CV"/>
 <cfdi:Receptor Rfc="XAXX010101000" Nombre="Persona Fisica" UsoCFDI="G03"/>
 <cfdi:Impuestos TotalImpuestosTrasladados="160.00"/>
 <cfdi:Complemento>
  <tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" Version="1.1"
   UUID="%s" FechaTimbrado="2024-03-15T10:30:00" RfcProvCertif="SAT970701NN3"
   SelloCFD="c2VsbG8=" SelloSAT="c2VsbG8=" NoCertificadoSAT="00001000000504465028"/>
 </cfdi:Complemento>
</cfdi:Comprobante>`, uuid))
}

// ZipArchive packs the entries into an in-memory zip.
func ZipArchive(t *testing.T, entries map[string][]byte) []byte {
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
