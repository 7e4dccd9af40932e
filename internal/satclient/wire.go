package satclient

import "encoding/xml"

// Wire envelopes for the document-retrieval service. Element and attribute
// names are part of the remote contract; do not rename.

type solicitudEnvelope struct {
	XMLName        xml.Name `xml:"solicitudDescarga"`
	RFC            string   `xml:"rfc,attr"`
	FechaInicial   string   `xml:"fechaInicial,attr"`
	FechaFinal     string   `xml:"fechaFinal,attr"`
	Tipo           string   `xml:"tipo,attr"`
	FechaSolicitud string   `xml:"fechaSolicitud,attr"`
	Sello          string   `xml:"sello"`
	Certificado    string   `xml:"certificado"`
}

type respuestaSolicitud struct {
	XMLName     xml.Name `xml:"respuestaSolicitud"`
	IDSolicitud string   `xml:"idSolicitud,attr"`
	Estado      string   `xml:"estado,attr"`
	Mensaje     string   `xml:"mensaje,attr"`
}

type verificaEnvelope struct {
	XMLName     xml.Name `xml:"verificaSolicitud"`
	IDSolicitud string   `xml:"idSolicitud,attr"`
	RFC         string   `xml:"rfc,attr"`
}

type respuestaVerifica struct {
	XMLName  xml.Name `xml:"respuestaVerifica"`
	Estado   string   `xml:"estado,attr"`
	Mensaje  string   `xml:"mensaje,attr"`
	Paquetes []string `xml:"paquete"`
}

type descargaEnvelope struct {
	XMLName   xml.Name `xml:"peticionDescarga"`
	IDPaquete string   `xml:"idPaquete,attr"`
	RFC       string   `xml:"rfc,attr"`
}

type respuestaDescarga struct {
	XMLName xml.Name `xml:"respuestaDescarga"`
	Paquete string   `xml:"paquete"`
}
