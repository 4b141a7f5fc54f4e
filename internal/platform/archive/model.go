package archive

// Study is the subset of Orthanc's /studies/{id} resource the gateway reads.
type Study struct {
	ID                   string            `json:"ID"`
	ParentPatient        string            `json:"ParentPatient"`
	MainDicomTags        map[string]string `json:"MainDicomTags"`
	PatientMainDicomTags map[string]string `json:"PatientMainDicomTags"`
	Series               []string          `json:"Series"`
	Instances            []string          `json:"Instances"`
	IsStable             bool              `json:"IsStable"`
	LastUpdate           string            `json:"LastUpdate"`
}

func (s *Study) PatientName() string      { return s.PatientMainDicomTags["PatientName"] }
func (s *Study) PatientID() string        { return s.PatientMainDicomTags["PatientID"] }
func (s *Study) StudyDate() string        { return s.MainDicomTags["StudyDate"] }
func (s *Study) StudyDescription() string { return s.MainDicomTags["StudyDescription"] }
func (s *Study) StudyInstanceUID() string { return s.MainDicomTags["StudyInstanceUID"] }

// Modality falls back to ModalitiesInStudy, which Orthanc reports on the study
// level when Modality is only present per series.
func (s *Study) Modality() string {
	if m := s.MainDicomTags["Modality"]; m != "" {
		return m
	}
	return s.MainDicomTags["ModalitiesInStudy"]
}

type SystemInfo struct {
	Name       string `json:"Name"`
	Version    string `json:"Version"`
	APIVersion int    `json:"ApiVersion"`
	DicomAet   string `json:"DicomAet"`
}
