package bundle

import "time"

// Coding systems and fixed values used in assembled resources.
const (
	SystemStoragePath     = "urn:audiovault:storage-path"
	SystemEncryptedField  = "urn:audiovault:encrypted-field:"
	SystemMediaType       = "http://terminology.hl7.org/CodeSystem/media-type"
	SystemDICOM           = "http://dicom.nema.org/resources/ontology/DCM"
	SystemConfidentiality = "http://terminology.hl7.org/CodeSystem/v3-Confidentiality"
	SystemProvenanceAgent = "http://terminology.hl7.org/CodeSystem/provenance-participant-type"

	ProfileMedia = "http://hl7.org/fhir/StructureDefinition/Media"

	ExtensionEncryptedReason = "urn:audiovault:extension:encrypted-reason"

	DeviceName = "Mobile Audio Recorder"
)

// Resource is one entry in a bundle.
type Resource interface {
	Type() string
	Identity() string
}

type Meta struct {
	Profile     []string  `json:"profile,omitempty"`
	Security    []Coding  `json:"security,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitzero"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Identifier struct {
	System   string     `json:"system"`
	Value    string     `json:"value"`
	Assigner *Reference `json:"assigner,omitempty"`
}

type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

type Attachment struct {
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	Title       string `json:"title,omitempty"`
	Creation    string `json:"creation,omitempty"`
}

type Extension struct {
	URL         string `json:"url"`
	ValueString string `json:"valueString"`
}

// Media describes the uploaded audio object.
type Media struct {
	ResourceType    string            `json:"resourceType"`
	ID              string            `json:"id"`
	Meta            *Meta             `json:"meta,omitempty"`
	Identifier      []Identifier      `json:"identifier,omitempty"`
	Status          string            `json:"status"`
	MediaType       *CodeableConcept  `json:"type,omitempty"`
	Modality        *CodeableConcept  `json:"modality,omitempty"`
	Subject         *Reference        `json:"subject,omitempty"`
	CreatedDateTime string            `json:"createdDateTime,omitempty"`
	DeviceName      string            `json:"deviceName,omitempty"`
	ReasonCode      []CodeableConcept `json:"reasonCode,omitempty"`
	Content         Attachment        `json:"content"`
}

func (m *Media) Type() string     { return "Media" }
func (m *Media) Identity() string { return m.ID }

// Patient carries only encrypted identifier tokens.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier"`
}

func (p *Patient) Type() string     { return "Patient" }
func (p *Patient) Identity() string { return p.ID }

type ProvenanceAgent struct {
	Type *CodeableConcept `json:"type,omitempty"`
	Who  Reference        `json:"who"`
}

// Provenance records who registered the media and when.
type Provenance struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id"`
	Target       []Reference       `json:"target"`
	Recorded     string            `json:"recorded"`
	Agent        []ProvenanceAgent `json:"agent"`
	Extension    []Extension       `json:"extension,omitempty"`
}

func (p *Provenance) Type() string     { return "Provenance" }
func (p *Provenance) Identity() string { return p.ID }

type Entry struct {
	FullURL  string   `json:"fullUrl"`
	Resource Resource `json:"resource"`
}

// Bundle is a FHIR-like container of resources.
type Bundle struct {
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Meta         *Meta     `json:"meta,omitempty"`
	Total        *int      `json:"total,omitempty"`
	Entry        []Entry   `json:"entry"`
}

// ResourcesCreated lists "{Type}/{id}" for each entry.
func (b Bundle) ResourcesCreated() []string {
	out := make([]string, 0, len(b.Entry))
	for _, e := range b.Entry {
		out = append(out, e.Resource.Type()+"/"+e.Resource.Identity())
	}
	return out
}

// Media returns the first Media entry.
func (b Bundle) Media() (*Media, bool) {
	for _, e := range b.Entry {
		if m, ok := e.Resource.(*Media); ok {
			return m, true
		}
	}
	return nil, false
}
