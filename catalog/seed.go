package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/iflowpipe/errors"
)

// LoadSeed reads a YAML catalog seed
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, errors.Wrap(err, errors.ErrConfiguration, "failed to read catalog seed")
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, errors.Wrap(err, errors.ErrConfiguration, "failed to parse catalog seed")
	}
	return seed, nil
}

// NewDefault builds the demo catalog
func NewDefault() *Static {
	s, err := NewStatic(DefaultSeed())
	if err != nil {
		panic(fmt.Sprintf("default catalog seed is invalid: %v", err))
	}
	return s
}

// DefaultSeed ships demo content: three packages, two artifacts per iFlow
func DefaultSeed() Seed {
	return Seed{
		Packages: []Package{
			{ID: "pkg-finance", Name: "Finance Integration", Description: "Invoice posting and payment reconciliation with S/4HANA", Version: "2.1.0", Author: "Integration Team"},
			{ID: "pkg-hr", Name: "HR Integration", Description: "Employee master data replication from SuccessFactors", Version: "1.0.3", Author: "HR Systems"},
			{ID: "pkg-orders", Name: "Order Management", Description: "Sales order intake and status synchronisation", Version: "1.4.0", Author: "Integration Team"},
		},
		IFlows: []IFlow{
			demoIFlow("if-fin-invoice", "Invoice_Posting", "pkg-finance", "Posts supplier invoices to S/4HANA", "2.1.0", ComplexityHigh,
				dep("s4hana", "S/4HANA Finance", "system", "s4hana.example.internal:443"),
				dep("mail", "Mail Service", "service", "smtp.example.internal:587"),
				dep("invoice-db", "Invoice Archive", "data", "invoice-db.example.internal:5432"),
			),
			demoIFlow("if-fin-ledger", "GL_Export", "pkg-finance", "Exports general ledger postings nightly", "1.0.0", ComplexityLow,
				dep("s4hana", "S/4HANA Finance", "system", "s4hana.example.internal:443"),
			),
			demoIFlow("if-fin-payment", "Payment_Reconciliation", "pkg-finance", "Reconciles bank statements with open items", "1.3.2", ComplexityMedium,
				dep("bank-api", "Bank Statement API", "service", "bank.example.com:443"),
				dep("if-fin-invoice", "Invoice Posting", "iflow", ""),
			),
			demoIFlow("if-hr-employee", "Employee_Replication", "pkg-hr", "Replicates employee records to payroll", "1.0.3", ComplexityMedium,
				dep("successfactors", "SuccessFactors", "system", "api.successfactors.example.com:443"),
				dep("payroll-db", "Payroll Store", "data", "payroll-db.example.internal:5432"),
			),
			demoIFlow("if-ord-create", "Order_Creation", "pkg-orders", "Creates sales orders from the web shop", "1.4.0", ComplexityMedium,
				dep("s4hana", "S/4HANA Sales", "system", "s4hana.example.internal:443"),
				dep("shop-api", "Web Shop API", "service", "shop.example.com:443"),
			),
			demoIFlow("if-ord-status", "Order_Status_Sync", "pkg-orders", "Pushes order status changes back to the shop", "1.1.0", ComplexityLow,
				dep("shop-api", "Web Shop API", "service", "shop.example.com:443"),
				dep("if-ord-create", "Order Creation", "iflow", ""),
			),
		},
	}
}

func demoIFlow(id, name, pkg, desc, version string, c Complexity, deps ...DependencySpec) IFlow {
	base := int64(len(name)) * 1024
	return IFlow{
		ID:          id,
		Name:        name,
		PackageID:   pkg,
		Description: desc,
		Version:     version,
		Complexity:  c,
		Status:      IFlowActive,
		Artifacts: []Artifact{
			{ID: id + "/archive", IFlowID: id, Name: name + ".zip", Kind: KindIFlowArchive, SizeBytes: base * 48},
			{ID: id + "/parameters", IFlowID: id, Name: name + ".prop", Kind: KindParameters, SizeBytes: base},
		},
		Dependencies: deps,
	}
}

func dep(id, name, typ, endpoint string) DependencySpec {
	return DependencySpec{ID: id, Name: name, Type: typ, Endpoint: endpoint}
}
