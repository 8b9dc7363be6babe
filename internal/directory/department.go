package directory

import "strings"

// Department is an organisational partition of the congregation.
type Department string

const (
	DeptNinos      Department = "ministerio-ninos"
	DeptDamas      Department = "ministerio-damas"
	DeptVarones    Department = "ministerio-varones"
	DeptJovenes    Department = "ministerio-jovenes"
	DeptMusica     Department = "departamento-musica"
	DeptEducacion  Department = "departamento-educacion"
	DeptDiaconos   Department = "departamento-diaconos"
	DeptPublicidad Department = "departamento-publicidad"
)

// Departments lists every department in catalogue order.
var Departments = []Department{
	DeptNinos, DeptDamas, DeptVarones, DeptJovenes,
	DeptMusica, DeptEducacion, DeptDiaconos, DeptPublicidad,
}

var departmentNames = map[Department]string{
	DeptNinos:      "Ministerio de Niños",
	DeptDamas:      "Ministerio de Damas",
	DeptVarones:    "Ministerio de Varones",
	DeptJovenes:    "Ministerio de Jóvenes",
	DeptMusica:     "Departamento de Música",
	DeptEducacion:  "Departamento de Educación Cristiana",
	DeptDiaconos:   "Departamento de Diáconos",
	DeptPublicidad: "Departamento de Publicidad",
}

// ParseDepartment accepts a department key, ignoring case and surrounding space.
func ParseDepartment(s string) (Department, bool) {
	d := Department(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := departmentNames[d]; !ok {
		return "", false
	}
	return d, true
}

func (d Department) Valid() bool {
	_, ok := departmentNames[d]
	return ok
}

// DisplayName returns the human readable name, or the key for unknown values.
func (d Department) DisplayName() string {
	if name, ok := departmentNames[d]; ok {
		return name
	}
	return string(d)
}
