package models

// PatientInput is the feature vector accepted by the prediction service.
// The predict proxy forwards bodies verbatim; this type documents the shape
// and is what the local mock upstream decodes.
type PatientInput struct {
	HospitalType                  int     `json:"Hospital_type"`
	HospitalCity                  int     `json:"Hospital_city"`
	HospitalRegion                int     `json:"Hospital_region"`
	AvailableExtraRoomsInHospital int     `json:"Available_Extra_Rooms_in_Hospital"`
	BedGrade                      float64 `json:"Bed_Grade"`
	PatientVisitors               int     `json:"Patient_Visitors"`
	CityCodePatient               float64 `json:"City_Code_Patient"`
	AdmissionDeposit              float64 `json:"Admission_Deposit"`
	Department                    string  `json:"Department"`
	WardType                      string  `json:"Ward_Type"`
	WardFacility                  string  `json:"Ward_Facility"`
	TypeOfAdmission               string  `json:"Type_of_Admission"`
	IllnessSeverity               string  `json:"Illness_Severity"`
	Age                           string  `json:"Age"`
}

// Fields returns the input as a generic map, as stored in Summary.LastInput.
func (p PatientInput) Fields() map[string]any {
	return map[string]any{
		"Hospital_type":                     p.HospitalType,
		"Hospital_city":                     p.HospitalCity,
		"Hospital_region":                   p.HospitalRegion,
		"Available_Extra_Rooms_in_Hospital": p.AvailableExtraRoomsInHospital,
		"Bed_Grade":                         p.BedGrade,
		"Patient_Visitors":                  p.PatientVisitors,
		"City_Code_Patient":                 p.CityCodePatient,
		"Admission_Deposit":                 p.AdmissionDeposit,
		"Department":                        p.Department,
		"Ward_Type":                         p.WardType,
		"Ward_Facility":                     p.WardFacility,
		"Type_of_Admission":                 p.TypeOfAdmission,
		"Illness_Severity":                  p.IllnessSeverity,
		"Age":                               p.Age,
	}
}
