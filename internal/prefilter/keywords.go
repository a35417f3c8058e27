package prefilter

import "github.com/fmuoria/cv-shortlist-agent/internal/models"

// skillKeywords maps each role category to the lowercase terms scanned in CV
// and job description text. Order within a list is the output order.
var skillKeywords = map[models.RoleCategory][]string{
	models.RoleDesarrollo: {
		"javascript", "typescript", "react", "angular", "vue", "node",
		"python", "java", "php", "ruby", "golang", "c#", ".net", "html",
		"css", "sql", "mysql", "postgresql", "mongodb", "docker",
		"kubernetes", "aws", "azure", "github", "graphql", "django", "flask",
		"spring", "laravel", "linux", "microservicios", "devops", "scrum",
		"testing",
	},
	models.RoleVentas: {
		"ventas", "prospección", "negociación", "cierre de ventas", "crm",
		"salesforce", "hubspot", "cartera de clientes", "b2b", "b2c",
		"cuotas", "metas comerciales", "telemarketing", "venta consultiva",
		"key account", "desarrollo de negocios", "postventa", "cobranza",
		"punto de venta", "canal de distribución", "licitaciones",
		"presentaciones comerciales", "fidelización", "pipeline",
		"ejecutivo comercial",
	},
	models.RoleAdministracion: {
		"contabilidad", "facturación", "nómina", "tesorería",
		"cuentas por pagar", "cuentas por cobrar", "presupuestos", "sap", "odoo",
		"auditoría", "conciliaciones bancarias", "impuestos",
		"recursos humanos", "reclutamiento", "compras", "inventarios",
		"logística", "archivo", "administración", "finanzas", "costos",
		"control interno", "contpaq", "declaraciones", "pagos",
	},
	models.RoleMarketing: {
		"marketing digital", "seo", "redes sociales",
		"community manager", "google ads", "facebook ads", "branding",
		"contenido", "copywriting", "email marketing", "google analytics",
		"campañas", "publicidad", "diseño gráfico", "photoshop",
		"illustrator", "canva", "wordpress", "inbound", "growth",
		"marca", "estrategia digital", "influencers", "mercadotecnia",
	},
	models.RoleDatos: {
		"sql", "python", "r studio", "power bi", "tableau", "looker",
		"excel avanzado", "machine learning", "estadística", "pandas",
		"numpy", "spark", "hadoop", "etl", "data warehouse", "big data",
		"bigquery", "snowflake", "airflow", "modelado de datos",
		"visualización de datos", "deep learning", "tensorflow",
		"scikit-learn", "análisis de datos", "dashboards",
	},
	models.RoleGeneral: {
		"comunicación", "liderazgo", "trabajo en equipo",
		"resolución de problemas", "inglés", "excel", "office", "word",
		"powerpoint", "proactivo", "organización", "atención al cliente",
		"servicio al cliente", "gestión", "planificación", "creatividad",
		"adaptabilidad", "responsabilidad", "toma de decisiones",
		"pensamiento crítico", "negociación", "puntualidad", "autonomía",
		"multitarea", "orientación a resultados",
	},
}

// keywordsFor returns the keyword lists to scan for a category, concatenated
// in scan order. General scans every category.
func keywordsFor(category models.RoleCategory) []string {
	var lists []models.RoleCategory
	if category == models.RoleGeneral || category == "" {
		lists = models.RoleCategories
	} else {
		lists = []models.RoleCategory{category, models.RoleGeneral}
	}

	var out []string
	for _, c := range lists {
		out = append(out, skillKeywords[c]...)
	}
	return out
}
