package clinic

// Doctor owns zero or more patients.
type Doctor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=254"`
}

// DoctorUpdate holds the doctor fields to change. Nil fields are unchanged.
type DoctorUpdate struct {
	Name  *string `json:"name" validate:"omitempty,max=200"`
	Email *string `json:"email" validate:"omitempty,email,max=254"`
}

// Patient is a person with at most one dispenser.
type Patient struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name" validate:"required,max=200"`
	Age      int     `json:"age" validate:"gte=0,lte=150"`
	Notes    *string `json:"notes"`
	DoctorID *int64  `json:"doctor_id"`
}

// PatientUpdate holds the patient fields to change. Nil fields are
// unchanged; an empty Notes clears the notes and a DoctorID of 0 clears
// the doctor.
type PatientUpdate struct {
	Name     *string `json:"name" validate:"omitempty,max=200"`
	Age      *int    `json:"age" validate:"omitempty,gte=0,lte=150"`
	Notes    *string `json:"notes"`
	DoctorID *int64  `json:"doctor_id" validate:"omitempty,gte=0"`
}

// PatientFilter narrows ListPatients.
type PatientFilter struct {
	DoctorID *int64
}
