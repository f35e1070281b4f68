package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marqocore/vespacore/pkg/model"
	"github.com/spf13/cobra"
)

func newCreateIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-index NAME",
		Short: "Create a new index",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreateIndex,
	}
	cmd.Flags().String("type", "unstructured", "index type: structured, unstructured, semistructured")
	cmd.Flags().String("schema-name", "", "schema name (defaults to the index name)")
	cmd.Flags().String("model", "hf/e5-base-v2", "embedding model name")
	cmd.Flags().String("distance-metric", string(model.DistanceMetricAngular), "tensor field distance metric")
	cmd.Flags().Bool("normalize-embeddings", true, "L2-normalize embeddings before storage")
	cmd.Flags().StringArray("field", nil, "structured field, repeatable: name:type[:feature1,feature2]")
	cmd.Flags().StringArray("tensor-field", nil, "tensor field name, repeatable")
	cmd.Flags().StringArray("lexical-field", nil, "semistructured initial lexical field name, repeatable")
	cmd.Flags().StringArray("string-array-field", nil, "semistructured initial string-array field name, repeatable")
	return cmd
}

func newDeleteIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-index NAME",
		Short: "Delete an index by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteIndex,
	}
}

func baseIndex(name string, cmd *cobra.Command) model.Index {
	schemaName, _ := cmd.Flags().GetString("schema-name")
	if schemaName == "" {
		schemaName = name
	}
	modelName, _ := cmd.Flags().GetString("model")
	distanceMetric, _ := cmd.Flags().GetString("distance-metric")
	normalize, _ := cmd.Flags().GetBool("normalize-embeddings")

	return model.Index{
		Name:                name,
		SchemaName:          schemaName,
		Model:               model.ModelConfig{Name: modelName},
		NormalizeEmbeddings: normalize,
		DistanceMetric:      model.DistanceMetric(distanceMetric),
		VectorNumericType:   model.VectorNumericFloat32,
		HNSW:                model.HNSWConfig{EfConstruction: 512, M: 16},
	}
}

// parseFieldFlag parses one --field value of the form
// "name:type[:feature1,feature2]" into a declared structured Field.
func parseFieldFlag(spec string) (model.Field, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return model.Field{}, fmt.Errorf("--field %q must be name:type[:features]", spec)
	}
	f := model.Field{Name: parts[0], Type: model.FieldType(parts[1])}
	if len(parts) == 3 && parts[2] != "" {
		for _, feat := range strings.Split(parts[2], ",") {
			f.Features = append(f.Features, model.Feature(feat))
		}
	}
	return f, nil
}

func parseTensorFields(names []string) []model.TensorField {
	out := make([]model.TensorField, 0, len(names))
	for _, n := range names {
		tf := model.TensorField{Name: n}
		tf.DerivedNames()
		out = append(out, tf)
	}
	return out
}

func runCreateIndex(cmd *cobra.Command, args []string) error {
	name := args[0]
	indexType, _ := cmd.Flags().GetString("type")

	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer st.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch strings.ToLower(indexType) {
	case strings.ToLower(string(model.IndexTypeStructured)):
		fieldSpecs, _ := cmd.Flags().GetStringArray("field")
		tensorNames, _ := cmd.Flags().GetStringArray("tensor-field")

		fields := make([]model.Field, 0, len(fieldSpecs))
		for _, spec := range fieldSpecs {
			f, err := parseFieldFlag(spec)
			if err != nil {
				return err
			}
			f.DerivedNames()
			fields = append(fields, f)
		}

		idx := &model.StructuredIndex{
			Index:        baseIndex(name, cmd),
			Fields:       fields,
			TensorFields: parseTensorFields(tensorNames),
		}
		if err := st.indexes.CreateIndex(ctx, idx); err != nil {
			return fmt.Errorf("create-index: %w", err)
		}

	case strings.ToLower(string(model.IndexTypeSemiStructured)):
		lexicalFields, _ := cmd.Flags().GetStringArray("lexical-field")
		tensorNames, _ := cmd.Flags().GetStringArray("tensor-field")
		stringArrayFields, _ := cmd.Flags().GetStringArray("string-array-field")

		idx := &model.SemiStructuredIndex{
			Index:             baseIndex(name, cmd),
			LexicalFields:     lexicalFields,
			TensorFields:      parseTensorFields(tensorNames),
			StringArrayFields: stringArrayFields,
		}
		if err := st.indexes.CreateSemiStructuredIndex(ctx, idx); err != nil {
			return fmt.Errorf("create-index: %w", err)
		}

	case strings.ToLower(string(model.IndexTypeUnstructured)):
		return fmt.Errorf("create-index: Unstructured indexes are legacy-only and cannot be created by this CLI; use semistructured instead")

	default:
		return fmt.Errorf("create-index: unknown --type %q (want structured, unstructured, or semistructured)", indexType)
	}

	fmt.Printf("index %q created\n", name)
	return nil
}

func runDeleteIndex(cmd *cobra.Command, args []string) error {
	name := args[0]

	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer st.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := st.indexes.DeleteIndexByName(ctx, name); err != nil {
		return fmt.Errorf("delete-index: %w", err)
	}
	fmt.Printf("index %q deleted\n", name)
	return nil
}
