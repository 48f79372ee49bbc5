package intake

import "testing"

func TestExtractBillAndCity(t *testing.T) {
	update := extractQualification("Minha conta é 450, moro em Salvador")

	if update.MonthlyBill == nil || *update.MonthlyBill != 450 {
		t.Fatalf("monthly bill not extracted: %+v", update.MonthlyBill)
	}
	if update.City == nil || *update.City != "Salvador" {
		t.Fatalf("city not extracted: %+v", update.City)
	}
}

func TestExtractCurrencyNotation(t *testing.T) {
	update := extractQualification("Pago uns R$ 612,50 por mês")

	if update.MonthlyBill == nil || *update.MonthlyBill != 612.50 {
		t.Fatalf("currency bill not extracted: %+v", update.MonthlyBill)
	}
}

func TestExtractRoofAndSegment(t *testing.T) {
	update := extractQualification("É uma empresa, o telhado é de zinco")

	if update.Segment == nil || *update.Segment != "comercial" {
		t.Errorf("segment not extracted: %+v", update.Segment)
	}
	if update.RoofType == nil || *update.RoofType != "metálico" {
		t.Errorf("roof not extracted: %+v", update.RoofType)
	}
}

func TestExtractConsumptionIncrease(t *testing.T) {
	update := extractQualification("Pretendo aumentar o consumo, vou comprar um carro elétrico")
	if update.ConsumptionIncrease == nil || !*update.ConsumptionIncrease {
		t.Fatal("consumption increase not detected")
	}

	update = extractQualification("Não pretendo aumentar nada")
	if update.ConsumptionIncrease == nil || *update.ConsumptionIncrease {
		t.Fatal("negated consumption increase not detected")
	}
}

func TestExtractIgnoresAmbiguousText(t *testing.T) {
	update := extractQualification("Oi, quero saber mais sobre energia solar")

	if !update.IsEmpty() {
		t.Fatalf("ambiguous text produced fields: %+v", update)
	}
}

func TestExtractCityTrimsTrailingClauses(t *testing.T) {
	update := extractQualification("Moro em Feira de Santana mas trabalho fora")

	if update.City == nil || *update.City != "Feira de Santana" {
		t.Fatalf("city not trimmed: %+v", update.City)
	}
}

func TestExtractRejectsImplausibleBill(t *testing.T) {
	update := extractQualification("minha conta é 5")

	if update.MonthlyBill != nil {
		t.Fatalf("implausible bill accepted: %v", *update.MonthlyBill)
	}
}
